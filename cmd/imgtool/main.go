// Copyright 2025 The CPTRA Image Tools authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// The imgtool command builds signed SoC authorization manifests and
// composite flash images from a project configuration.
package main

import (
	"bytes"
	"flag"
	"fmt"
	"os"

	"github.com/cheggaaa/pb/v3"
	"k8s.io/klog/v2"

	"github.com/cptra-tools/imgtool/internal/build"
	"github.com/cptra-tools/imgtool/internal/config"
)

// toolVersion is compared against min_tool_version in configurations.
const toolVersion = "1.2.0"

func main() {
	klog.InitFlags(nil)
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(2)
	}

	switch cmd := flag.Arg(0); cmd {
	case "create-manifest":
		createManifest(flag.Args()[1:])
	case "create-flash":
		createFlash(flag.Args()[1:])
	default:
		klog.Exitf("Unknown command %q", cmd)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s [flags] <create-manifest|create-flash> [command flags]\n", os.Args[0])
	flag.PrintDefaults()
}

// buildFlags holds the flags common to both commands: project layout plus
// per-path overrides.
type buildFlags struct {
	root       string
	project    string
	configPath string
	keyDir     string
	prebuilt   string
	output     string
	derived    string
	lmsHelper  string
}

func registerBuildFlags(fs *flag.FlagSet, f *buildFlags) {
	fs.StringVar(&f.root, "root", ".", "Project tree root holding key/, prebuilt/ and config/ directories.")
	fs.StringVar(&f.project, "project", "", "Project name, selects <root>/key/<prj> and <root>/prebuilt/<prj>.")
	fs.StringVar(&f.configPath, "config", "", "Configuration file; overrides the project convention path.")
	fs.StringVar(&f.keyDir, "key-dir", "", "Key material directory; overrides the project convention path.")
	fs.StringVar(&f.prebuilt, "prebuilt-dir", "", "Prebuilt binary directory; overrides the project convention path.")
	fs.StringVar(&f.output, "output", "", "Output artifact; overrides the project convention path.")
	fs.StringVar(&f.derived, "derived-config", "", "Derived configuration output; overrides the project convention path.")
	fs.StringVar(&f.lmsHelper, "lms-helper", "", "External hash-based sign helper command; empty leaves LMS fields zeroed.")
}

// resolve merges the project conventions with any explicit overrides and
// loads the configuration.
func (f *buildFlags) resolve() (*config.Config, config.Paths) {
	p := config.ProjectPaths(f.root, f.project)
	if f.configPath != "" {
		p.ConfigPath = f.configPath
	}
	if f.keyDir != "" {
		p.KeyDir = f.keyDir
	}
	if f.prebuilt != "" {
		p.PrebuiltDir = f.prebuilt
	}
	if f.derived != "" {
		p.DerivedConfigPath = f.derived
	}

	cfg, err := config.Load(p.ConfigPath)
	if err != nil {
		klog.Exitf("Failed to load configuration %q: %v", p.ConfigPath, err)
	}
	if err := cfg.Validate(toolVersion); err != nil {
		klog.Exitf("Invalid configuration %q: %v", p.ConfigPath, err)
	}
	cfg.ResolvePrebuilt(p.PrebuiltDir)
	return cfg, p
}

// buildManifest runs the manifest pipeline and writes the derived
// configuration next to it.
func buildManifest(cfg *config.Config, p config.Paths, lmsHelper string) []byte {
	mb := &build.ManifestBuilder{
		Config:    cfg,
		Paths:     p,
		LMSHelper: lmsHelper,
	}
	m, err := mb.Build()
	if err != nil {
		klog.Exitf("Failed to build manifest: %v", err)
	}
	buf, err := m.Encode()
	if err != nil {
		klog.Exitf("Failed to encode manifest: %v", err)
	}
	if err := cfg.SaveDerived(p.DerivedConfigPath); err != nil {
		klog.Exitf("Failed to write derived configuration: %v", err)
	}
	return buf
}

func createManifest(args []string) {
	fs := flag.NewFlagSet("create-manifest", flag.ExitOnError)
	var f buildFlags
	registerBuildFlags(fs, &f)
	fs.Parse(args)

	cfg, p := f.resolve()
	if f.output != "" {
		p.ManifestPath = f.output
	}

	buf := buildManifest(cfg, p, f.lmsHelper)
	if err := build.WriteArtifact(p.ManifestPath, buf); err != nil {
		klog.Exitf("Failed to write manifest: %v", err)
	}
	klog.Infof("Wrote manifest (%d bytes) to %s", len(buf), p.ManifestPath)
}

func createFlash(args []string) {
	fs := flag.NewFlagSet("create-flash", flag.ExitOnError)
	var f buildFlags
	manifestPath := fs.String("manifest", "", "Previously built manifest to embed; empty builds one from the configuration.")
	registerBuildFlags(fs, &f)
	fs.Parse(args)

	cfg, p := f.resolve()
	if f.output != "" {
		p.FlashPath = f.output
	}

	var manBuf []byte
	if *manifestPath != "" {
		var err error
		if manBuf, err = os.ReadFile(*manifestPath); err != nil {
			klog.Exitf("Failed to read manifest %q: %v", *manifestPath, err)
		}
	} else {
		manBuf = buildManifest(cfg, p, f.lmsHelper)
		if err := build.WriteArtifact(p.ManifestPath, manBuf); err != nil {
			klog.Exitf("Failed to write manifest: %v", err)
		}
	}

	fa := &build.FlashAssembler{Config: cfg, Manifest: manBuf}
	img, err := fa.Build()
	if err != nil {
		klog.Exitf("Failed to assemble flash image: %v", err)
	}
	buf, err := img.Encode()
	if err != nil {
		klog.Exitf("Failed to encode flash image: %v", err)
	}

	bar := pb.Full.Start64(int64(len(buf)))
	err = build.WriteArtifactFrom(p.FlashPath, bar.NewProxyReader(bytes.NewReader(buf)))
	bar.Finish()
	if err != nil {
		klog.Exitf("Failed to write flash image: %v", err)
	}
	klog.Infof("Wrote flash image (%d bytes) to %s", len(buf), p.FlashPath)
}
