//go:build ignore
// +build ignore

// Build "script" for the padcheck release packages.
// Use by executing "go run build.go"

package main

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
)

const binName = "padcheck"

func main() {
	version := strings.TrimSpace(ExecCommand("git", "describe", "--tags"))
	version = strings.TrimPrefix(version, "v")

	archs := [...]string{"386", "amd64", "arm", "arm64"}
	oss := [...]string{"linux", "darwin", "windows"}

	if err := os.MkdirAll("dist", 0755); err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		os.Exit(1)
	}

	defer func() {
		_ = os.Remove(binName)
		_ = os.Remove(binName + ".exe")
	}()

	var archives []string

	for _, osName := range oss {
		for _, arch := range archs {
			if osName == "darwin" && (arch == "386" || arch == "arm") {
				continue
			}

			ExecBuild(arch, osName, version)
			arName := fmt.Sprintf("%s_%s_%s_%s", binName, version, osName, arch)
			if osName == "windows" {
				arName += ".zip"
				ExecCommand("zip", arName, binName+".exe")
			} else {
				arName += ".tar.gz"
				ExecCommand("tar", "-czvf", arName, binName)
			}

			if err := os.Rename(arName, "dist/"+arName); err != nil {
				fmt.Fprintf(os.Stderr, "error: %s\n", err.Error())
				return
			}
			archives = append(archives, arName)
		}
	}

	if err := WriteChecksums("dist", archives); err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		os.Exit(1)
	}
}

// WriteChecksums writes a SHA256SUMS file in dir, in the format expected by
// sha256sum -c.
func WriteChecksums(dir string, archives []string) error {
	sort.Strings(archives)

	var sums bytes.Buffer
	for _, name := range archives {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return err
		}
		sum := sha256.Sum256(data)
		fmt.Fprintf(&sums, "%s  %s\n", hex.EncodeToString(sum[:]), name)
	}
	return os.WriteFile(filepath.Join(dir, "SHA256SUMS"), sums.Bytes(), 0644)
}

func ExecCommand(c string, args ...string) string {
	cmd := exec.Command(c, args...)

	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		os.Exit(1)
	}
	return buf.String()
}

// ExecBuild cross compiles the binary, embedding the release version.
func ExecBuild(arch, osName, version string) {
	ldflags := fmt.Sprintf("-X main.Version=v%s", version)

	cmd := exec.Command("go", "build", "-ldflags", ldflags, "-o", binName+exeSuffix(osName))
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = append(os.Environ(), "GOARCH="+arch, "GOOS="+osName)

	if err := cmd.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

func exeSuffix(osName string) string {
	if osName == "windows" {
		return ".exe"
	}
	return ""
}
