package cli

import (
	"bufio"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/spf13/cobra"

	"github.com/freeeve/openingtree/internal/app"
	"github.com/freeeve/openingtree/internal/graph"
)

func newExportEvalsCommand(g *globalOptions) *cobra.Command {
	var outputPath string
	cmd := &cobra.Command{
		Use:   "export-evals",
		Short: "Write every evaluated position as fen,eval,eval_depth,is_mate (.zst and .gz compress)",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := g.open(cmd, app.Options{})
			if err != nil {
				return err
			}
			defer a.Close()

			w, err := createEvalFile(outputPath)
			if err != nil {
				return err
			}
			var rows int
			err = a.Do(cmd.Context(), func() error {
				var werr error
				rows, werr = a.Tree.ExportEvals(w)
				return werr
			})
			if cerr := w.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported %d evals to %s\n", rows, outputPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&outputPath, "output", "evals.csv", "Output CSV file")
	return cmd
}

func newImportEvalsCommand(g *globalOptions) *cobra.Command {
	var (
		inputPath     string
		createMissing bool
	)
	cmd := &cobra.Command{
		Use:   "import-evals",
		Short: "Merge evaluations from a fen,eval,eval_depth,is_mate file (.zst and .gz accepted)",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := g.open(cmd, app.Options{})
			if err != nil {
				return err
			}
			defer a.Close()

			r, err := openEvalFile(inputPath)
			if err != nil {
				return err
			}
			defer r.Close()

			var res graph.EvalImport
			err = a.Do(cmd.Context(), func() error {
				var rerr error
				res, rerr = a.Tree.ImportEvals(r, createMissing)
				return rerr
			})
			if err != nil {
				return err
			}
			if err := a.Save(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "read %d rows: %d updated, %d unchanged, %d created, %d skipped, %d errors\n",
				res.Rows, res.Updated, res.Unchanged, res.Created, res.Skipped, res.Errors)
			return nil
		},
	}
	cmd.Flags().StringVar(&inputPath, "input", "evals.csv", "Input CSV file")
	cmd.Flags().BoolVar(&createMissing, "create-missing", false, "Create positions missing from the tree")
	return cmd
}

// evalFile closes a stack of readers or writers innermost first.
type evalFile struct {
	io.Reader
	io.Writer
	closers []func() error
}

func (f *evalFile) Close() error {
	var first error
	for _, c := range f.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// openEvalFile opens path, decompressing .zst and .gz files.
func openEvalFile(path string) (*evalFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open input file: %w", err)
	}
	ef := &evalFile{Reader: bufio.NewReader(f)}
	switch {
	case strings.HasSuffix(path, ".zst"):
		zr, err := zstd.NewReader(ef.Reader, zstd.WithDecoderConcurrency(1))
		if err != nil {
			f.Close()
			return nil, err
		}
		ef.Reader = zr
		ef.closers = append(ef.closers, func() error { zr.Close(); return nil })
	case strings.HasSuffix(path, ".gz"):
		gr, err := gzip.NewReader(ef.Reader)
		if err != nil {
			f.Close()
			return nil, err
		}
		ef.Reader = gr
		ef.closers = append(ef.closers, gr.Close)
	}
	ef.closers = append(ef.closers, f.Close)
	return ef, nil
}

// createEvalFile creates path, compressing .zst and .gz files.
func createEvalFile(path string) (*evalFile, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create output file: %w", err)
	}
	bw := bufio.NewWriter(f)
	ef := &evalFile{Writer: bw}
	switch {
	case strings.HasSuffix(path, ".zst"):
		zw, err := zstd.NewWriter(bw)
		if err != nil {
			f.Close()
			return nil, err
		}
		ef.Writer = zw
		ef.closers = append(ef.closers, zw.Close)
	case strings.HasSuffix(path, ".gz"):
		gw := gzip.NewWriter(bw)
		ef.Writer = gw
		ef.closers = append(ef.closers, gw.Close)
	}
	ef.closers = append(ef.closers, bw.Flush, f.Close)
	return ef, nil
}
