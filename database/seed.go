/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package database

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/uptrace/bun"
)

const (
	seedCommonDir   = "common"
	seedEnvDir      = "environments"
	seedOrderLatest = 999
)

var seedOrderPattern = regexp.MustCompile(`^(\d+)_`)

// SeedFile is one SQL file found under a seed root.
type SeedFile struct {
	Path        string
	Name        string
	Order       int
	Environment string
}

// SeedResult is the outcome of executing one SeedFile.
type SeedResult struct {
	File         string
	Statements   int
	RowsAffected int64
	Duration     time.Duration
}

// SeedFiles lists the .sql files under root/common followed by those under
// root/environments/<environment>. Within each group files run in the order
// of their numeric "NN_" prefix; unnumbered files run last.
func SeedFiles(root, environment string) ([]SeedFile, error) {
	files, err := seedFilesIn(filepath.Join(root, seedCommonDir), seedCommonDir)
	if err != nil {
		return nil, fmt.Errorf("failed to list common seed files: %w", err)
	}
	if environment != "" {
		envFiles, err := seedFilesIn(filepath.Join(root, seedEnvDir, environment), environment)
		if err != nil {
			return nil, fmt.Errorf("failed to list %s seed files: %w", environment, err)
		}
		files = append(files, envFiles...)
	}
	sort.SliceStable(files, func(i, j int) bool {
		if files[i].Environment != files[j].Environment {
			return files[i].Environment == seedCommonDir
		}
		if files[i].Order != files[j].Order {
			return files[i].Order < files[j].Order
		}
		return files[i].Name < files[j].Name
	})
	return files, nil
}

func seedFilesIn(dir, environment string) ([]SeedFile, error) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil, nil
	}
	var files []SeedFile
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(strings.ToLower(d.Name()), ".sql") {
			return nil
		}
		files = append(files, SeedFile{
			Path:        path,
			Name:        d.Name(),
			Order:       seedOrder(d.Name()),
			Environment: environment,
		})
		return nil
	})
	return files, err
}

func seedOrder(name string) int {
	m := seedOrderPattern.FindStringSubmatch(name)
	if len(m) < 2 {
		return seedOrderLatest
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return seedOrderLatest
	}
	return n
}

// ExecSeedFiles runs every statement of files through db, stopping at the
// first failure. File contents are text/template documents rendered with
// the process environment plus ENVIRONMENT. Pass a transaction handle to
// apply the whole set atomically.
func ExecSeedFiles(ctx context.Context, db bun.IDB, logger Logger, files []SeedFile) ([]SeedResult, error) {
	if logger == nil {
		logger = NopLogger()
	}
	results := make([]SeedResult, 0, len(files))
	for _, file := range files {
		start := time.Now()
		raw, err := os.ReadFile(file.Path)
		if err != nil {
			return results, fmt.Errorf("failed to read seed file %s: %w", file.Path, err)
		}
		content, err := renderSeed(string(raw), file.Environment)
		if err != nil {
			return results, fmt.Errorf("seed file %s: %w", file.Path, err)
		}

		res := SeedResult{File: file.Path}
		for _, stmt := range splitStatements(content) {
			out, err := db.ExecContext(ctx, stmt)
			if err != nil {
				logger.Error("Seed statement failed", "file", file.Path, "error", err)
				return results, fmt.Errorf("seed file %s: %w", file.Path, Classify("seed", err))
			}
			n, _ := out.RowsAffected()
			res.RowsAffected += n
			res.Statements++
		}
		res.Duration = time.Since(start)
		results = append(results, res)
		logger.Info("Seed file applied",
			"file", file.Path,
			"statements", res.Statements,
			"rows_affected", res.RowsAffected,
			"duration", res.Duration.String())
	}
	return results, nil
}

func renderSeed(content, environment string) (string, error) {
	tmpl, err := template.New("seed").Option("missingkey=zero").Parse(content)
	if err != nil {
		return "", fmt.Errorf("failed to parse template: %w", err)
	}
	vars := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			vars[k] = v
		}
	}
	vars["ENVIRONMENT"] = environment

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, vars); err != nil {
		return "", fmt.Errorf("failed to render template: %w", err)
	}
	return buf.String(), nil
}

// splitStatements breaks a script into statements at lines ending in ";".
// Blank lines and "--" comment lines are skipped.
func splitStatements(content string) []string {
	var (
		statements []string
		current    strings.Builder
	)
	flush := func() {
		if stmt := strings.TrimSpace(current.String()); stmt != "" {
			statements = append(statements, stmt)
		}
		current.Reset()
	}

	scanner := bufio.NewScanner(strings.NewReader(content))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "--") {
			continue
		}
		current.WriteString(line)
		current.WriteString(" ")
		if strings.HasSuffix(line, ";") {
			flush()
		}
	}
	flush()
	return statements
}
