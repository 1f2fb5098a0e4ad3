// Copyright 2025 The CPTRA Image Tools authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package matrix

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"

	"github.com/cptra-tools/imgtool/api"
	"github.com/cptra-tools/imgtool/internal/build"
	"github.com/cptra-tools/imgtool/internal/config"
	"github.com/cptra-tools/imgtool/internal/keys"
)

// Result records one finished case: the artifact paths on success, or the
// error that stopped it. A failed case never leaves partial artifacts behind.
type Result struct {
	Case     Case
	Manifest string
	Flash    string
	Err      error
}

// Report is the outcome of a full matrix run.
type Report struct {
	Results []Result
}

// Produced returns the results that yielded artifacts.
func (r Report) Produced() []Result {
	var out []Result
	for _, res := range r.Results {
		if res.Err == nil {
			out = append(out, res)
		}
	}
	return out
}

// Failed returns the results that errored.
func (r Report) Failed() []Result {
	var out []Result
	for _, res := range r.Results {
		if res.Err != nil {
			out = append(out, res)
		}
	}
	return out
}

// Summary renders a one-line-per-case account of the run.
func (r Report) Summary() string {
	s := fmt.Sprintf("%d/%d cases produced artifacts\n", len(r.Produced()), len(r.Results))
	for _, res := range r.Results {
		if res.Err != nil {
			s += fmt.Sprintf("  %-32s ERROR: %v\n", res.Case.Name(), res.Err)
			continue
		}
		s += fmt.Sprintf("  %-32s %s\n", res.Case.Name(), filepath.Base(res.Flash))
	}
	return s
}

// Runner executes a case list against a provisioned project tree and writes
// every artifact under OutDir.
type Runner struct {
	Cases []Case

	// Root is the project tree holding key/ and prebuilt/ directories.
	Root string
	// Project selects the key/<prj> and prebuilt/<prj> subtrees.
	Project string
	// OutDir receives the named manifest and flash artifacts.
	OutDir string

	// Workers bounds case concurrency; values below 1 run sequentially.
	Workers int

	// LMSHelper is the external hash-based sign helper command; empty
	// builds manifests with the LMS signature fields zeroed.
	LMSHelper string
}

// Run builds every case. A case failure is recorded in the report and does
// not stop the remaining cases; the returned error covers only run setup.
func (r *Runner) Run(ctx context.Context) (Report, error) {
	if len(r.Cases) == 0 {
		r.Cases = DefaultCases
	}
	if err := os.MkdirAll(r.OutDir, 0o755); err != nil {
		return Report{}, fmt.Errorf("creating output directory: %v", err)
	}

	rep := Report{Results: make([]Result, len(r.Cases))}
	g, ctx := errgroup.WithContext(ctx)
	workers := r.Workers
	if workers < 1 {
		workers = 1
	}
	g.SetLimit(workers)

	for i, c := range r.Cases {
		i, c := i, c
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				rep.Results[i] = Result{Case: c, Err: err}
				return nil
			}
			res := r.runCase(c)
			if res.Err != nil {
				klog.Errorf("case %s: %v", c.Name(), res.Err)
			} else {
				klog.V(1).Infof("case %s: wrote %s", c.Name(), res.Flash)
			}
			rep.Results[i] = res
			return nil
		})
	}
	// Worker funcs always return nil; failures live in the report.
	_ = g.Wait()

	return rep, nil
}

// runCase builds the configuration, manifest and flash image for one case,
// applies any corruption, and writes the two named artifacts.
func (r *Runner) runCase(c Case) Result {
	res := Result{Case: c}

	sels, err := keys.Resolve(c.Scenario)
	if err != nil {
		res.Err = err
		return res
	}

	paths := config.ProjectPaths(r.Root, r.Project)
	cfg := config.Build(c.Version, c.Flags, c.SecurityVersion, sels)
	cfg.ResolvePrebuilt(paths.PrebuiltDir)

	workDir, err := os.MkdirTemp("", "matrix-"+c.Name()+"-")
	if err != nil {
		res.Err = err
		return res
	}
	defer os.RemoveAll(workDir)

	mb := &build.ManifestBuilder{
		Config:    cfg,
		Paths:     paths,
		LMSHelper: r.LMSHelper,
		WorkDir:   workDir,
	}
	m, err := mb.Build()
	if err != nil {
		res.Err = err
		return res
	}
	manBuf, err := m.Encode()
	if err != nil {
		res.Err = err
		return res
	}

	fa := &build.FlashAssembler{Config: cfg, Manifest: manBuf}
	f, err := fa.Build()
	if err != nil {
		res.Err = err
		return res
	}
	flashBuf, err := f.Encode()
	if err != nil {
		res.Err = err
		return res
	}

	if c.Corrupt != "" {
		if err := api.Corrupt(manBuf, c.Corrupt); err != nil {
			res.Err = err
			return res
		}
		if err := api.Corrupt(flashBuf, c.Corrupt); err != nil {
			res.Err = err
			return res
		}
	}

	res.Manifest = filepath.Join(r.OutDir, c.Name()+"-manifest.bin")
	res.Flash = filepath.Join(r.OutDir, c.Name()+"-flash-image.bin")
	if err := build.WriteArtifact(res.Manifest, manBuf); err != nil {
		res.Err = err
		return res
	}
	if err := build.WriteArtifact(res.Flash, flashBuf); err != nil {
		res.Err = err
		return res
	}
	return res
}
