// SPDX-License-Identifier: MIT

// Package importer bulk-loads accounts from a line-oriented file of
// "username,password" pairs at startup.
package importer

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	xlog "github.com/ptcfleet/accountserver/internal/log"
	"github.com/ptcfleet/accountserver/internal/store"
)

// LoadFile upserts every valid pair in the file. A missing file is a
// warning, not an error; malformed lines are skipped with a warning.
func LoadFile(ctx context.Context, path string, st *store.Store) (int, error) {
	logger := xlog.WithComponent("importer")

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Warn().Str("path", path).Msg("accounts file not found, not adding accounts")
			return 0, nil
		}
		return 0, fmt.Errorf("open accounts file: %w", err)
	}
	defer func() { _ = f.Close() }()

	var creds []store.Credential
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		parts := strings.Split(line, ",")
		if len(parts) != 2 {
			logger.Warn().Str("line", line).Msg("invalid account entry, skipping")
			continue
		}
		creds = append(creds, store.Credential{Username: parts[0], Password: parts[1]})
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("read accounts file: %w", err)
	}

	if err := st.UpsertMany(ctx, creds); err != nil {
		return 0, err
	}
	logger.Info().Int("accounts", len(creds)).Str("path", path).Msg("accounts loaded")
	return len(creds), nil
}
