// Command pagetool inspects, verifies and patches SQLite database files at
// the page level.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/dustin/go-humanize"

	"github.com/FocuswithJustin/pagekit/core/delta"
	"github.com/FocuswithJustin/pagekit/core/errors"
	"github.com/FocuswithJustin/pagekit/core/format"
	"github.com/FocuswithJustin/pagekit/core/pagediff"
	"github.com/FocuswithJustin/pagekit/core/pager"
	"github.com/FocuswithJustin/pagekit/core/pagespec"
	"github.com/FocuswithJustin/pagekit/core/pageusage"
	"github.com/FocuswithJustin/pagekit/core/sqlite"
	"github.com/FocuswithJustin/pagekit/core/vfs"
	"github.com/FocuswithJustin/pagekit/internal/archive"
	"github.com/FocuswithJustin/pagekit/internal/config"
	"github.com/FocuswithJustin/pagekit/internal/fileutil"
	"github.com/FocuswithJustin/pagekit/internal/logging"
	"github.com/FocuswithJustin/pagekit/internal/report"
	"github.com/FocuswithJustin/pagekit/internal/scrub"
	"github.com/FocuswithJustin/pagekit/internal/validation"
)

const version = "0.1.0"

// stdout receives command output.
var stdout io.Writer = os.Stdout

// CLI defines the command-line interface for pagetool.
var CLI struct {
	// Global flags
	Config    string `name:"config" short:"c" help:"Configuration file (default $PAGETOOL_CONFIG or the user config dir)" type:"path"`
	LogLevel  string `name:"log-level" help:"Override log level (debug, info, warn, error)"`
	LogFormat string `name:"log-format" help:"Override log format (text, json)"`

	// Command groups (noun-first organization)
	DB      DBGroup     `cmd:"" name:"db" help:"Decode headers, pages and page usage"`
	Cksum   CksumGroup  `cmd:"" help:"Per-page checksum verification and stamping"`
	Delta   DeltaGroup  `cmd:"" help:"Binary delta encoding"`
	Diff    DiffGroup   `cmd:"" help:"Page-level diff bundles between two database images"`
	Scrub   ScrubCmd    `cmd:"" help:"Verify checksums of configured files on a schedule"`
	Fixture FixtureCmd  `cmd:"" help:"Generate a test database with SQLite"`
	Conf    ConfigGroup `cmd:"" name:"config" help:"Configuration"`
	Version VersionCmd  `cmd:"" help:"Print version information"`
}

// runContext carries the loaded configuration to every command.
type runContext struct {
	ctx context.Context
	cfg *config.Config
}

// DBGroup contains read-only decoding commands.
type DBGroup struct {
	Header DBHeaderCmd `cmd:"" help:"Print the 100-byte database header"`
	Show   DBShowCmd   `cmd:"" help:"Decode pages selected by page arguments"`
	Usage  DBUsageCmd  `cmd:"" help:"Report what every page is used for"`
}

// CksumGroup contains checksum operations.
type CksumGroup struct {
	Verify CksumVerifyCmd `cmd:"" help:"Verify the checksum of every page"`
	Stamp  CksumStampCmd  `cmd:"" help:"Write a checksum into every page"`
}

// DeltaGroup contains delta codec operations.
type DeltaGroup struct {
	Create DeltaCreateCmd `cmd:"" help:"Create a delta from source to target"`
	Apply  DeltaApplyCmd  `cmd:"" help:"Apply a delta to a source"`
	Size   DeltaSizeCmd   `cmd:"" help:"Print the output size recorded in a delta"`
	Parse  DeltaParseCmd  `cmd:"" help:"List the instructions of a delta"`
}

// DiffGroup contains page diff operations.
type DiffGroup struct {
	Create DiffCreateCmd `cmd:"" help:"Write a bundle of page deltas from source to target"`
	Apply  DiffApplyCmd  `cmd:"" help:"Rewrite a source database into the bundle's target"`
	Info   DiffInfoCmd   `cmd:"" help:"Describe a bundle"`
}

// ConfigGroup contains configuration commands.
type ConfigGroup struct {
	Show ConfigShowCmd `cmd:"" help:"Print the effective configuration"`
}

// openDB opens a database through the pager with the configured cache and
// checksum settings.
func openDB(rc *runContext, path string, write bool) (*pager.Pager, error) {
	if err := validation.ValidatePath(path); err != nil {
		return nil, fmt.Errorf("invalid database path: %w", err)
	}
	p, err := pager.Open(path, pager.Options{
		ReadOnly:  !write,
		CacheSize: rc.cfg.Pager.CacheSize,
		Checksums: true,
		Verify:    rc.cfg.Pager.VerifyChecksums,
	})
	if err != nil {
		return nil, err
	}
	if p.Header() == nil {
		p.Close()
		return nil, fmt.Errorf("%s: %w", path, validation.ErrNotDatabase)
	}
	return p, nil
}

func readInput(path string) ([]byte, error) {
	if err := validation.ValidatePath(path); err != nil {
		return nil, fmt.Errorf("invalid path: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewIO("read", path, err)
	}
	return data, nil
}

func writeOutput(path string, data []byte) error {
	if path == "" || path == "-" {
		_, err := stdout.Write(data)
		return err
	}
	if err := validation.ValidatePath(path); err != nil {
		return fmt.Errorf("invalid output path: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.NewIO("write", path, err)
	}
	return nil
}

// DBHeaderCmd prints the database header.
type DBHeaderCmd struct {
	Path string `arg:"" help:"Database file" type:"existingfile"`
}

func (c *DBHeaderCmd) Run(rc *runContext) error {
	p, err := openDB(rc, c.Path, false)
	if err != nil {
		return err
	}
	defer p.Close()

	report.Header(stdout, p.Header())
	fmt.Fprintf(stdout, "Usable size: %d, pages: %d (%s)\n", p.UsableSize(), p.PageCount(),
		humanize.IBytes(uint64(p.PageCount())*uint64(p.PageSize())))
	return nil
}

// DBShowCmd decodes pages. Each argument is a page number or range with an
// optional mode suffix: 7, 3..9, 5..end, 2b, 2bcmd, 2bd4, 9t, 9tdr, 2p.
type DBShowCmd struct {
	Path  string   `arg:"" help:"Database file" type:"existingfile"`
	Specs []string `arg:"" help:"Page arguments"`
}

func (c *DBShowCmd) Run(rc *runContext) error {
	specs := make([]*pagespec.Spec, 0, len(c.Specs))
	for _, arg := range c.Specs {
		s, err := pagespec.Parse(arg)
		if err != nil {
			return err
		}
		specs = append(specs, s)
	}

	p, err := openDB(rc, c.Path, false)
	if err != nil {
		return err
	}
	defer p.Close()

	var failed []string
	for _, s := range specs {
		pages := s.Pages(p.PageCount())
		if len(pages) == 0 {
			return fmt.Errorf("%s selects no page of %d", s, p.PageCount())
		}
		for _, pgno := range pages {
			if err := showPage(stdout, p, s, pgno); err != nil {
				logging.CorruptPage(pgno, err)
				failed = append(failed, fmt.Sprint(pgno))
			}
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("could not decode page %s", strings.Join(failed, ", "))
	}
	return nil
}

func showPage(w io.Writer, p *pager.Pager, s *pagespec.Spec, pgno uint32) error {
	data, err := p.ReadPage(pgno)
	if err != nil {
		return err
	}
	switch s.Mode {
	case pagespec.ModeBtree:
		return report.Page(w, p, pgno, data, report.PageOptions{
			Content: s.Content,
			Map:     s.Map,
			Detail:  s.Detail,
			Cell:    s.Cell,
			Enc:     p.Header().TextEncoding,
		})
	case pagespec.ModeTrunk:
		return report.Trunk(w, p, pgno, s.Leaves, s.Recursive)
	case pagespec.ModePtrmap:
		report.Ptrmap(w, pgno, data, p.UsableSize())
	default:
		report.Raw(w, pgno, data)
	}
	return nil
}

// DBUsageCmd prints the page usage report.
type DBUsageCmd struct {
	Path     string `arg:"" help:"Database file" type:"existingfile"`
	XML      bool   `name:"xml" help:"Print the report as XML"`
	Select   string `help:"Evaluate an XPath expression against the XML report"`
	MaxDepth int    `name:"max-depth" help:"B-tree depth limit (default from config)"`
}

func (c *DBUsageCmd) Run(rc *runContext) error {
	p, err := openDB(rc, c.Path, false)
	if err != nil {
		return err
	}
	defer p.Close()

	depth := c.MaxDepth
	if depth == 0 {
		depth = rc.cfg.Usage.MaxDepth
	}
	u, err := pageusage.Report(p, pageusage.Options{MaxDepth: depth})
	if err != nil {
		return err
	}
	st := p.CacheStats()
	logging.DebugContext(rc.ctx, "usage report done", "pages", u.PageCount, "faults", len(u.Errors),
		"cache_hits", st.Hits, "cache_misses", st.Misses, "hit_rate", st.HitRate())

	if !c.XML && c.Select == "" {
		io.WriteString(stdout, u.String())
		return nil
	}
	out, err := report.MarshalUsage(u)
	if err != nil {
		return err
	}
	if c.Select == "" {
		_, err = stdout.Write(out)
		return err
	}
	doc, err := report.Parse(out)
	if err != nil {
		return err
	}
	v, err := doc.Evaluate(c.Select)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, v)
	return nil
}

// CksumVerifyCmd verifies page checksums.
type CksumVerifyCmd struct {
	Paths []string `arg:"" help:"Database files" type:"existingfile"`
}

func (c *CksumVerifyCmd) Run(rc *runContext) error {
	bad := 0
	for _, path := range c.Paths {
		r := scrub.File(rc.ctx, path)
		switch {
		case r.Err != nil:
			fmt.Fprintf(stdout, "%s: %v\n", path, r.Err)
			bad++
		case r.Skipped != "":
			fmt.Fprintf(stdout, "%s: skipped, %s\n", path, r.Skipped)
		case len(r.Faults) > 0:
			for _, f := range r.Faults {
				fmt.Fprintf(stdout, "%s: checksum fault on page %d at offset %d\n", path, f.Pgno, f.Offset)
			}
			bad++
		default:
			fmt.Fprintf(stdout, "%s: %s pages ok\n", path, humanize.Comma(int64(r.Pages)))
		}
	}
	if bad > 0 {
		return fmt.Errorf("%d of %d files failed verification", bad, len(c.Paths))
	}
	return nil
}

// CksumStampCmd writes checksums into every page.
type CksumStampCmd struct {
	Path string `arg:"" help:"Database file reserving 8 bytes per page" type:"existingfile"`
}

func (c *CksumStampCmd) Run(rc *runContext) error {
	if err := validation.ValidatePath(c.Path); err != nil {
		return err
	}
	f, err := vfs.Open(c.Path, os.O_RDWR)
	if err != nil {
		return err
	}
	defer f.Close()

	n, err := vfs.EnableChecksums(f)
	if err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		return err
	}
	logging.WithFile(c.Path).Info("checksums stamped", "pages", n, "run_id", logging.GetRunID(rc.ctx))
	fmt.Fprintf(stdout, "%s: stamped %s pages\n", c.Path, humanize.Comma(int64(n)))
	return nil
}

// DeltaCreateCmd creates a delta.
type DeltaCreateCmd struct {
	Source string `arg:"" help:"Source file" type:"existingfile"`
	Target string `arg:"" help:"Target file" type:"existingfile"`
	Out    string `short:"o" help:"Output file (default stdout)"`
}

func (c *DeltaCreateCmd) Run(rc *runContext) error {
	source, err := readInput(c.Source)
	if err != nil {
		return err
	}
	target, err := readInput(c.Target)
	if err != nil {
		return err
	}
	d := delta.Create(source, target)
	logging.DeltaEvent("create", len(source), len(target), len(d))
	return writeOutput(c.Out, d)
}

// DeltaApplyCmd applies a delta.
type DeltaApplyCmd struct {
	Source   string `arg:"" help:"Source file" type:"existingfile"`
	Delta    string `arg:"" help:"Delta file" type:"existingfile"`
	Out      string `short:"o" help:"Output file (default stdout)"`
	NoVerify bool   `name:"no-verify" help:"Skip the checksum recorded in the delta"`
}

func (c *DeltaApplyCmd) Run(rc *runContext) error {
	source, err := readInput(c.Source)
	if err != nil {
		return err
	}
	d, err := readInput(c.Delta)
	if err != nil {
		return err
	}
	apply := delta.Apply
	if rc.cfg.Delta.VerifyChecksum && !c.NoVerify {
		apply = delta.ApplyVerified
	}
	out, err := apply(source, d)
	if err != nil {
		return err
	}
	logging.DeltaEvent("apply", len(source), len(out), len(d))
	return writeOutput(c.Out, out)
}

// DeltaSizeCmd prints the output size of a delta.
type DeltaSizeCmd struct {
	Delta string `arg:"" help:"Delta file" type:"existingfile"`
}

func (c *DeltaSizeCmd) Run(rc *runContext) error {
	d, err := readInput(c.Delta)
	if err != nil {
		return err
	}
	n, err := delta.OutputSize(d)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, n)
	return nil
}

// DeltaParseCmd lists delta instructions.
type DeltaParseCmd struct {
	Delta string `arg:"" help:"Delta file" type:"existingfile"`
}

func (c *DeltaParseCmd) Run(rc *runContext) error {
	d, err := readInput(c.Delta)
	if err != nil {
		return err
	}
	for op := range delta.Parse(d) {
		fmt.Fprintln(stdout, op)
		if op.Kind == delta.OpError {
			return errors.NewDelta(op.Offset, "malformed instruction")
		}
	}
	return nil
}

// DiffCreateCmd writes a diff bundle.
type DiffCreateCmd struct {
	Source string `arg:"" help:"Source database" type:"existingfile"`
	Target string `arg:"" help:"Target database" type:"existingfile"`
	Out    string `short:"o" help:"Bundle path (default <target>.pagediff plus the configured archive extension)"`
}

func (c *DiffCreateCmd) Run(rc *runContext) error {
	src, err := openDB(rc, c.Source, false)
	if err != nil {
		return err
	}
	defer src.Close()
	dst, err := openDB(rc, c.Target, false)
	if err != nil {
		return err
	}
	defer dst.Close()

	d, err := pagediff.Create(src, dst)
	if err != nil {
		return err
	}
	out := c.Out
	if out == "" {
		out = c.Target + ".pagediff" + config.BundleExt(rc.cfg.Diff.Compression)
	}
	if err := validation.ValidatePath(out); err != nil {
		return fmt.Errorf("invalid output path: %w", err)
	}
	if !archive.IsSupportedFormat(out) {
		return errors.NewValidation("out", "bundle name must end in .tar.xz, .tar.gz or .tar")
	}
	if err := d.WriteBundle(out); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "%s: %d of %d pages changed, %s of deltas\n", filepath.Base(out),
		len(d.Manifest.Changes), d.Manifest.TargetPages, humanize.IBytes(uint64(d.DeltaBytes())))
	return nil
}

// DiffApplyCmd applies a diff bundle in place.
type DiffApplyCmd struct {
	Bundle   string `arg:"" help:"Bundle written by diff create" type:"existingfile"`
	Database string `arg:"" help:"Database holding the bundle's source image" type:"existingfile"`
	Out      string `short:"o" help:"Patch a copy written here instead of the database itself" type:"path"`
}

func (c *DiffApplyCmd) Run(rc *runContext) error {
	d, err := pagediff.ReadBundle(c.Bundle)
	if err != nil {
		return err
	}
	path := c.Database
	if c.Out != "" {
		if err := validation.ValidatePath(c.Out); err != nil {
			return fmt.Errorf("invalid output path: %w", err)
		}
		if err := fileutil.CopyFile(c.Database, c.Out); err != nil {
			return err
		}
		path = c.Out
	}
	p, err := openDB(rc, path, true)
	if err != nil {
		return err
	}
	defer p.Close()

	if err := pagediff.Apply(p, d, pagediff.ApplyOptions{VerifyDeltas: rc.cfg.Delta.VerifyChecksum}); err != nil {
		return err
	}
	if err := p.Sync(); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "%s: applied %d page deltas, now %d pages\n", path,
		len(d.Manifest.Changes), d.Manifest.TargetPages)
	return nil
}

// DiffInfoCmd describes a diff bundle.
type DiffInfoCmd struct {
	Bundle string `arg:"" help:"Bundle written by diff create" type:"existingfile"`
}

func (c *DiffInfoCmd) Run(rc *runContext) error {
	m, err := pagediff.ReadManifest(c.Bundle)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Bundle:    %s\n", archive.ExtractID(c.Bundle))
	fmt.Fprintf(stdout, "ID:        %s\n", m.ID)
	fmt.Fprintf(stdout, "Created:   %s (%s)\n", m.CreatedAt.Format("2006-01-02 15:04:05 MST"), humanize.Time(m.CreatedAt))
	fmt.Fprintf(stdout, "Page size: %d\n", m.PageSize)
	fmt.Fprintf(stdout, "Source:    %d pages, %s\n", m.SourcePages, m.SourceDigest)
	fmt.Fprintf(stdout, "Target:    %d pages, %s\n", m.TargetPages, m.TargetDigest)
	fmt.Fprintf(stdout, "Changes:   %d pages, %s of deltas\n", len(m.Changes), humanize.IBytes(uint64(m.DeltaBytes())))
	for _, ch := range m.Changes {
		fmt.Fprintf(stdout, "  %5d: %s\n", ch.Pgno, humanize.IBytes(uint64(ch.DeltaSize)))
	}
	return nil
}

// ScrubCmd verifies checksums once or on a schedule.
type ScrubCmd struct {
	Files    []string `arg:"" optional:"" help:"Database files (default from config)"`
	Schedule string   `help:"Cron schedule (default from config)"`
	Once     bool     `help:"Run one pass and exit"`
}

func (c *ScrubCmd) Run(rc *runContext) error {
	files := c.Files
	if len(files) == 0 {
		files = rc.cfg.Scrub.Files
	}
	schedule := c.Schedule
	if schedule == "" {
		schedule = rc.cfg.Scrub.Schedule
	}

	failed := 0
	s, err := scrub.New(schedule, files, func(r scrub.Result) {
		status := "ok"
		switch {
		case r.Err != nil:
			status = r.Err.Error()
		case r.Skipped != "":
			status = "skipped, " + r.Skipped
		case len(r.Faults) > 0:
			status = fmt.Sprintf("%d checksum faults", len(r.Faults))
		}
		if !r.OK() && r.Skipped == "" {
			failed++
		}
		fmt.Fprintf(stdout, "%s %s: %s\n", r.Started.UTC().Format("2006-01-02T15:04:05Z"), r.Path, status)
	})
	if err != nil {
		return err
	}

	if c.Once {
		s.RunOnce(rc.ctx)
		if failed > 0 {
			return fmt.Errorf("%d files failed verification", failed)
		}
		return nil
	}

	ctx, stop := signal.NotifyContext(rc.ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	return s.Run(ctx)
}

// FixtureCmd generates a database with SQLite.
type FixtureCmd struct {
	Path       string `arg:"" help:"Database file to create (replaced if it exists)" type:"path"`
	PageSize   int    `name:"page-size" default:"1024" help:"Page size"`
	Rows       int    `default:"200" help:"Rows to insert"`
	BlobSize   int    `name:"blob-size" default:"1500" help:"Blob column size"`
	Delete     int    `default:"120" help:"Rows to delete afterwards"`
	AutoVacuum bool   `name:"auto-vacuum" help:"Enable full auto-vacuum"`
}

func (c *FixtureCmd) Run(rc *runContext) error {
	if err := validation.ValidatePath(c.Path); err != nil {
		return err
	}
	if !format.IsValidPageSize(c.PageSize) {
		return errors.NewValidation("page-size", "must be a power of two between 512 and 65536")
	}
	err := sqlite.CreateFixture(rc.ctx, c.Path, sqlite.FixtureOptions{
		PageSize:   c.PageSize,
		Rows:       c.Rows,
		BlobSize:   c.BlobSize,
		DeleteRows: c.Delete,
		AutoVacuum: c.AutoVacuum,
	})
	if err != nil {
		return err
	}
	st, err := sqlite.ReadStats(rc.ctx, c.Path)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "%s: %d pages of %d bytes, %d on the freelist (%s)\n", c.Path,
		st.PageCount, st.PageSize, st.FreelistCount, humanize.IBytes(uint64(st.PageCount*st.PageSize)))
	return nil
}

// ConfigShowCmd prints the effective configuration.
type ConfigShowCmd struct{}

func (c *ConfigShowCmd) Run(rc *runContext) error {
	out, err := rc.cfg.Marshal()
	if err != nil {
		return err
	}
	_, err = stdout.Write(out)
	return err
}

// VersionCmd prints version information.
type VersionCmd struct{}

func (c *VersionCmd) Run(rc *runContext) error {
	info := sqlite.GetInfo()
	fmt.Fprintf(stdout, "pagetool version %s\n", version)
	fmt.Fprintf(stdout, "sqlite driver: %s (%s, %s)\n", info.DriverName, info.DriverType, info.Package)
	return nil
}

// loadConfig reads the configuration and applies the logging overrides.
func loadConfig(path, level, logFormat string) (*config.Config, error) {
	optional := path == ""
	if optional {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path, optional)
	if err != nil {
		return nil, err
	}
	if level != "" {
		cfg.Log.Level = level
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func main() {
	ctx := kong.Parse(&CLI,
		kong.Name("pagetool"),
		kong.Description("SQLite page inspector, checksum verifier and page diff tool"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
	)

	cfg, err := loadConfig(CLI.Config, CLI.LogLevel, CLI.LogFormat)
	ctx.FatalIfErrorf(err)
	logging.InitLogger(logging.ParseLevel(cfg.Log.Level), logging.ParseFormat(cfg.Log.Format))

	runID := logging.NewRunID()
	rc := &runContext{ctx: logging.WithRunID(context.Background(), runID), cfg: cfg}
	logging.DebugContext(rc.ctx, "command started", "command", ctx.Command())

	err = ctx.Run(rc)
	ctx.FatalIfErrorf(err)
}
