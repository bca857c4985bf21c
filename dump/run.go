package dump

import (
	"fmt"
	"path/filepath"

	"github.com/dustin/go-humanize"
	cli "github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"demobi/history"
	"demobi/mobi"
	"demobi/state"
)

// RunDump implements the "dump" command: extract every book named on the
// command line and record the results in the extraction history.
func RunDump(ctx *cli.Context) error {
	env := ctx.Generic(state.FlagName).(*state.LocalEnv)
	if ctx.NArg() == 0 {
		return fmt.Errorf("no book files specified")
	}

	outPath, err := filepath.Abs(env.Cfg.Dump.OutputPath)
	if err != nil {
		return fmt.Errorf("unable to resolve output directory: %w", err)
	}

	dbpath := filepath.Join(env.Cfg.HistoryPath, history.GetName(outPath))
	if err := history.Create(dbpath, env.Log, outPath); err != nil {
		return fmt.Errorf("unable to prepare history database: %w", err)
	}
	conn, err := history.Connect(dbpath, env.Log)
	if err != nil {
		return fmt.Errorf("unable to open history database: %w", err)
	}
	defer conn.Disconnect()

	d := New(&env.Cfg.Dump, env.Log)

	var failed int
	for _, path := range ctx.Args().Slice() {
		dir, artifacts, err := d.Extract(path)
		if err != nil {
			env.Log.Error("Unable to extract book", zap.String("file", path), zap.Error(err))
			failed++
			continue
		}
		env.Log.Info("Book extracted", zap.String("file", path), zap.String("dir", dir))
		if err := conn.SaveExtraction(path, filepath.Base(dir), artifacts); err != nil {
			env.Log.Error("Unable to record extraction", zap.String("file", path), zap.Error(err))
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d books failed to extract", failed, ctx.NArg())
	}
	return nil
}

// RunInfo implements the "info" command: decode the named books and
// report what they contain without writing anything.
func RunInfo(ctx *cli.Context) error {
	env := ctx.Generic(state.FlagName).(*state.LocalEnv)
	if ctx.NArg() == 0 {
		return fmt.Errorf("no book files specified")
	}

	for _, path := range ctx.Args().Slice() {
		if err := reportBook(path, env.Log); err != nil {
			env.Log.Error("Unable to read book", zap.String("file", path), zap.Error(err))
		}
	}
	return nil
}

func reportBook(path string, log *zap.Logger) error {
	book, err := mobi.Open(path, log)
	if err != nil {
		return err
	}
	defer book.Close()

	if err := book.Load(); err != nil {
		return err
	}

	meta := book.Metadata()
	fields := []zap.Field{
		zap.String("file", path),
		zap.String("title", meta.Title),
		zap.String("text", humanize.Bytes(uint64(len(book.Text())))),
		zap.Int("images", book.ImagesCount()),
	}
	if len(meta.Author) > 0 {
		fields = append(fields, zap.String("author", meta.Author))
	}
	if len(meta.Publisher) > 0 {
		fields = append(fields, zap.String("publisher", meta.Publisher))
	}
	if cover := book.Cover(); cover != nil {
		fields = append(fields, zap.Stringer("cover", cover.Type))
	}
	log.Info("Book", fields...)
	return nil
}
