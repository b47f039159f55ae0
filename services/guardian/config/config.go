// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config loads and validates the texguardian.yaml project
// configuration.
//
// # Description
//
// Configuration is discovered by walking up from the working directory
// until a texguardian.yaml file is found. ${VAR} and $VAR references in
// the file are expanded from the environment before parsing, so API keys
// never need to live in the file itself.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"
)

// ConfigFilename is the name of the project configuration file.
const ConfigFilename = "texguardian.yaml"

// GuardianDirName is the per-project state directory (checkpoints, renders, logs).
const GuardianDirName = ".texguardian"

// ProjectConfig describes the LaTeX project layout.
type ProjectConfig struct {
	// MainTex is the entry point .tex file, relative to the project root.
	MainTex string `yaml:"main_tex"`

	// OutputDir is the compile output directory, relative to the project root.
	OutputDir string `yaml:"output_dir"`
}

// SafetyConfig bounds what automated edits are allowed to do.
type SafetyConfig struct {
	// MaxChangedLines rejects any single patch changing more lines than this.
	MaxChangedLines int `yaml:"max_changed_lines"`

	// MaxRounds bounds chat-driven fix loops.
	MaxRounds int `yaml:"max_rounds"`

	// MaxVisualRounds bounds the visual verification loop.
	MaxVisualRounds int `yaml:"max_visual_rounds"`

	// Allowlist holds glob patterns for files patches may touch.
	Allowlist []string `yaml:"allowlist"`

	// Denylist holds glob patterns for files patches must never touch.
	// Denylist wins over allowlist.
	Denylist []string `yaml:"denylist"`
}

// LatexConfig configures the compiler collaborator.
type LatexConfig struct {
	// Compiler is the build driver binary, normally latexmk.
	Compiler string `yaml:"compiler"`

	// Engine selects the TeX engine: pdflatex, xelatex, or lualatex.
	Engine string `yaml:"engine"`

	// ShellEscape enables --shell-escape. Off by default for safety.
	ShellEscape bool `yaml:"shell_escape"`

	// TimeoutSeconds is the wall-clock compile budget.
	TimeoutSeconds int `yaml:"timeout"`
}

// VisualConfig configures rendering and image differencing.
type VisualConfig struct {
	// DPI is the render resolution for page images.
	DPI int `yaml:"dpi"`

	// DiffThreshold is the changed-pixel percentage below which two
	// consecutive renders are considered converged.
	DiffThreshold float64 `yaml:"diff_threshold"`

	// PixelThreshold is the per-channel intensity delta (0-255) above
	// which a pixel counts as changed.
	PixelThreshold int `yaml:"pixel_threshold"`

	// MaxPagesToAnalyze caps pages sent to the vision model. 0 = all.
	MaxPagesToAnalyze int `yaml:"max_pages_to_analyze"`
}

// LLMConfig configures the vision collaborator client.
type LLMConfig struct {
	// BaseURL is the OpenAI-compatible endpoint. Defaults to OpenRouter.
	BaseURL string `yaml:"base_url"`

	// APIKey authenticates against BaseURL. Usually "${OPENROUTER_API_KEY}".
	APIKey string `yaml:"api_key"`

	// VisionModel is the model used for page-image analysis.
	VisionModel string `yaml:"vision_model"`

	// MaxRetries bounds retry attempts on retryable API failures.
	MaxRetries int `yaml:"max_retries"`

	// RequestsPerMinute rate-limits vision calls. 0 disables limiting.
	RequestsPerMinute int `yaml:"requests_per_minute"`
}

// Config is the root texguardian.yaml model.
type Config struct {
	Project ProjectConfig `yaml:"project"`
	Safety  SafetyConfig  `yaml:"safety"`
	Latex   LatexConfig   `yaml:"latex"`
	Visual  VisualConfig  `yaml:"visual"`
	LLM     LLMConfig     `yaml:"llm"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Project: ProjectConfig{
			MainTex:   "main.tex",
			OutputDir: "build",
		},
		Safety: SafetyConfig{
			MaxChangedLines: 50,
			MaxRounds:       10,
			MaxVisualRounds: 5,
			Allowlist:       []string{"*.tex", "*.bib", "*.sty", "*.cls"},
			Denylist:        []string{".git/**", "*.pdf", "build/**"},
		},
		Latex: LatexConfig{
			Compiler:       "latexmk",
			Engine:         "pdflatex",
			TimeoutSeconds: 240,
		},
		Visual: VisualConfig{
			DPI:            150,
			DiffThreshold:  5.0,
			PixelThreshold: 15,
		},
		LLM: LLMConfig{
			BaseURL:           "https://openrouter.ai/api/v1",
			APIKey:            "${OPENROUTER_API_KEY}",
			VisionModel:       "anthropic/claude-opus-4.5",
			MaxRetries:        3,
			RequestsPerMinute: 0,
		},
	}
}

// Load reads a configuration file, expanding environment references.
//
// Inputs:
//
//	path - Path to texguardian.yaml. A missing file yields Default().
//
// Outputs:
//
//	Config - Parsed configuration with defaults for absent sections.
//	error - Non-nil if the file exists but cannot be read or parsed.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config: %w", err)
	}

	expanded := ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return cfg, fmt.Errorf("parsing %s: %w", filepath.Base(path), err)
	}

	return cfg, nil
}

// envVarPattern matches ${VAR} and $VAR references.
var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// ExpandEnv replaces ${VAR} and $VAR references with environment values.
// Unset variables are left as-is so the failure is visible downstream.
func ExpandEnv(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		name := groups[1]
		if name == "" {
			name = groups[2]
		}
		if value, ok := os.LookupEnv(name); ok {
			return value
		}
		return match
	})
}

// Find walks up from startDir looking for texguardian.yaml.
//
// Outputs:
//
//	string - Path to the config file, or "" if none was found.
func Find(startDir string) string {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return ""
	}

	for {
		candidate := filepath.Join(dir, ConfigFilename)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// ProjectRoot returns the project root for a config file path.
func ProjectRoot(configPath string) string {
	return filepath.Dir(configPath)
}
