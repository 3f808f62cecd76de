// Package cli implements the p3dephaser command-line front end: a
// dispatch table over the inspect, scan, and extract subcommands,
// mirroring the alias-map style used elsewhere in this family of tools.
package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"

	"github.com/darktohka/p3dephaser/internal/memscan"
	"github.com/darktohka/p3dephaser/internal/multifile"
)

// Aliases for the CLI commands.
var (
	aliasesInspect = map[string]bool{"i": true, "-i": true, "inspect": true, "--inspect": true}
	aliasesScan    = map[string]bool{"s": true, "-s": true, "scan": true, "--scan": true}
	aliasesExtract = map[string]bool{"x": true, "-x": true, "extract": true, "--extract": true}
	aliasesHelp    = map[string]bool{"h": true, "-h": true, "help": true, "--help": true}
)

// RunCLI parses argv (in the os.Args shape, argv[0] the program name) and
// dispatches to the inspect, scan, or extract command.
func RunCLI(argv []string) error {
	if len(argv) < 2 || aliasesHelp[argv[1]] {
		printHelp()
		return nil
	}

	cmd := argv[1]
	switch {
	case aliasesInspect[cmd]:
		return runInspect(argv[2:])
	case aliasesScan[cmd]:
		return runScan(argv[2:])
	case aliasesExtract[cmd]:
		return runExtract(argv[2:])
	default:
		return fmt.Errorf("unknown command %q. Use --help", cmd)
	}
}

func runInspect(args []string) error {
	if len(args) < 1 {
		return errors.New("usage: p3dephaser inspect ARCHIVE.mf")
	}
	path := args[0]

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return err
	}

	archive, err := multifile.Load(path, f, stat.Size())
	if err != nil {
		return fmt.Errorf("inspect %s: %w", path, err)
	}

	fmt.Printf("version:          %d.%d\n", archive.MajorVersion, archive.MinorVersion)
	fmt.Printf("scale factor:     %d\n", archive.ScaleFactor)
	fmt.Printf("timestamp:        %d\n", archive.Timestamp)
	fmt.Printf("subfiles:         %d\n", len(archive.Subfiles))
	fmt.Printf("encrypted subfile: #%d\n", archive.EncryptedSubfileIndex)
	fmt.Printf("cipher nid:       %d\n", archive.NID)
	fmt.Printf("key length:       %d\n", archive.KeyLength)
	fmt.Printf("iteration count:  %d\n", archive.IterationCount)
	fmt.Printf("iv size:          %d\n", len(archive.IV))
	return nil
}

// scanArgs holds the parsed flags shared by scan and extract.
type scanArgs struct {
	pid      int
	archives []string
}

func parseScanArgs(args []string, usage string) (scanArgs, error) {
	var pid int
	var rest []string

	for i := 0; i < len(args); i++ {
		if args[i] == "-pid" {
			if i+1 >= len(args) {
				return scanArgs{}, errors.New(usage)
			}
			v, err := strconv.Atoi(args[i+1])
			if err != nil {
				return scanArgs{}, fmt.Errorf("-pid: %w", err)
			}
			pid = v
			i++
			continue
		}
		rest = append(rest, args[i])
	}

	if pid == 0 || len(rest) == 0 {
		return scanArgs{}, errors.New(usage)
	}

	return scanArgs{pid: pid, archives: rest}, nil
}

func toRequests(paths []string) []memscan.ArchiveRequest {
	reqs := make([]memscan.ArchiveRequest, len(paths))
	for i, p := range paths {
		reqs[i] = memscan.ArchiveRequest{Path: p, Basename: filepath.Base(p)}
	}
	return reqs
}

func runScan(args []string) error {
	parsed, err := parseScanArgs(args, "usage: p3dephaser scan -pid PID ARCHIVE.mf [ARCHIVE.mf ...]")
	if err != nil {
		return err
	}

	found := 0
	stop := &atomic.Bool{}
	err = memscan.ScanProcess(parsed.pid, toRequests(parsed.archives), stop, func(e memscan.Event) {
		logScanEvent(e, &found)
	})
	if err != nil {
		return err
	}
	slog.Info("scan tally", "passwords", found)
	if found == 0 {
		slog.Warn("no passwords recovered")
	}
	return nil
}

func logScanEvent(e memscan.Event, found *int) {
	switch ev := e.(type) {
	case memscan.Progress:
		*found++
		slog.Info("password recovered", "filename", ev.Filename, "password", string(ev.Password), "scan_id", ev.ScanID)
	case memscan.Warning:
		slog.Warn("archive skipped", "archive", ev.Archive, "error", ev.Err, "scan_id", ev.ScanID)
	case memscan.ScanError:
		slog.Error("scan aborted", "error", ev.Err, "scan_id", ev.ScanID)
	case memscan.Finished:
		slog.Info("scan finished", "scan_id", ev.ScanID)
	}
}

func runExtract(args []string) error {
	var out string
	var rest []string
	for i := 0; i < len(args); i++ {
		if args[i] == "-out" {
			if i+1 >= len(args) {
				return errors.New("usage: p3dephaser extract -pid PID -out DIR ARCHIVE.mf")
			}
			out = args[i+1]
			i++
			continue
		}
		rest = append(rest, args[i])
	}
	if out == "" {
		return errors.New("usage: p3dephaser extract -pid PID -out DIR ARCHIVE.mf")
	}

	parsed, err := parseScanArgs(rest, "usage: p3dephaser extract -pid PID -out DIR ARCHIVE.mf")
	if err != nil {
		return err
	}
	if len(parsed.archives) != 1 {
		return errors.New("usage: p3dephaser extract -pid PID -out DIR ARCHIVE.mf")
	}
	path := parsed.archives[0]

	var recovered []byte
	stop := &atomic.Bool{}
	if err := memscan.ScanProcess(parsed.pid, toRequests(parsed.archives), stop, func(e memscan.Event) {
		if p, ok := e.(memscan.Progress); ok && recovered == nil {
			recovered = p.Password
			stop.Store(true)
		}
		logScanEvent(e, new(int))
	}); err != nil {
		return err
	}

	if recovered == nil {
		return fmt.Errorf("extract: no password recovered for %s", path)
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	stat, err := f.Stat()
	if err != nil {
		return err
	}
	archive, err := multifile.Load(path, f, stat.Size())
	if err != nil {
		return err
	}

	if err := os.MkdirAll(out, 0o755); err != nil {
		return err
	}

	for i := range archive.Subfiles {
		r, err := archive.OpenSubfile(i, recovered)
		if err != nil {
			slog.Warn("subfile skipped", "index", i, "error", err)
			continue
		}
		dest, err := os.Create(filepath.Join(out, fmt.Sprintf("subfile-%04d.bin", i)))
		if err != nil {
			return err
		}
		_, copyErr := io.Copy(dest, r)
		closeErr := dest.Close()
		if copyErr != nil {
			return copyErr
		}
		if closeErr != nil {
			return closeErr
		}
	}

	slog.Info("extraction complete", "archive", path, "out", out, "subfiles", len(archive.Subfiles))
	return nil
}

func printHelp() {
	fmt.Println(`p3dephaser — Panda3D multifile password recovery via process memory scanning

USAGE:
  p3dephaser (i|-i|inspect|--inspect)         ARCHIVE.mf
  p3dephaser (s|-s|scan|--scan)   -pid PID    ARCHIVE.mf [ARCHIVE.mf ...]
  p3dephaser (x|-x|extract|--extract) -pid PID -out DIR ARCHIVE.mf
  p3dephaser (h|-h|help|--help)

DEPENDENCIES:
  - golang.org/x/crypto/pbkdf2, golang.org/x/crypto/blowfish
  - golang.org/x/sys/unix
  - github.com/klauspost/compress/zlib
  - github.com/google/uuid

EXAMPLES:
  p3dephaser inspect assets.mf
  p3dephaser scan -pid 4821 assets.mf
  p3dephaser extract -pid 4821 -out ./out assets.mf`)
}
