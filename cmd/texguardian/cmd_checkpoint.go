// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/TexGuardian/services/guardian/checkpoint"
	"github.com/AleutianAI/TexGuardian/services/guardian/config"
)

func openStore() (*checkpoint.Store, error) {
	return checkpoint.NewStore(filepath.Join(projectRoot, config.GuardianDirName), logger.Logger)
}

func runCheckpointList(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}

	entries := store.List()
	if len(entries) == 0 {
		fmt.Println("No checkpoints.")
		return nil
	}
	for _, e := range entries {
		fmt.Printf("%s  %s  %2d file(s)  %s\n", e.ID, e.Timestamp, e.FileCount, e.Description)
	}
	return nil
}

func runCheckpointRestore(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}

	if !store.Restore(cmd.Context(), args[0]) {
		return fmt.Errorf("checkpoint %s not found", args[0])
	}
	fmt.Printf("Restored checkpoint %s\n", args[0])
	return nil
}

func runCheckpointDiff(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}

	diffs, err := store.Diff(args[0])
	if err != nil {
		return err
	}
	if len(diffs) == 0 {
		fmt.Println("No changes since checkpoint.")
		return nil
	}

	names := make([]string, 0, len(diffs))
	for name := range diffs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Println(diffs[name])
	}
	return nil
}

func runCheckpointDelete(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}

	if !store.Delete(args[0]) {
		return fmt.Errorf("checkpoint %s not found", args[0])
	}
	fmt.Printf("Deleted checkpoint %s\n", args[0])
	return nil
}
