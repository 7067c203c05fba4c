package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/dgallion1/docaudit/internal/config"
	"github.com/dgallion1/docaudit/internal/coordmap"
	"github.com/dgallion1/docaudit/internal/doctree"
	"github.com/dgallion1/docaudit/internal/extract"
	"github.com/dgallion1/docaudit/internal/highlight"
	"github.com/dgallion1/docaudit/internal/parser"
	"github.com/dgallion1/docaudit/internal/sidecar"
)

func newTokensCommand(verbose *bool) *cobra.Command {
	var useSidecar bool
	cmd := &cobra.Command{
		Use:   "tokens <file>",
		Short: "Print the positioned text tokens of a document as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTokens(cmd.Context(), cmd.OutOrStdout(), args[0], useSidecar, newLogger(*verbose))
		},
	}
	cmd.Flags().BoolVar(&useSidecar, "sidecar", false, "Ask the side-car at SIDECAR_URL instead of the local PDF reader")
	return cmd
}

func runTokens(ctx context.Context, w io.Writer, path string, useSidecar bool, log *slog.Logger) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg := config.Load()
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var doc *doctree.Document
	if useSidecar {
		client := sidecar.NewClient(cfg.SidecarURL, 2*time.Minute)
		resp, err := client.ExtractTokens(ctx, data, filepath.Base(path))
		if err != nil {
			return err
		}
		doc = resp.Document(filepath.Base(path))
	} else {
		ext, err := parser.ForFile(path, cfg.PDFFallbackPdftotext)
		if err != nil {
			return err
		}
		if doc, err = ext.Extract(bytes.NewReader(data), filepath.Base(path)); err != nil {
			return err
		}
	}
	log.Info("tokens extracted", "pages", len(doc.Pages))
	return writeJSON(w, payloadFrom(doc))
}

func payloadFrom(doc *doctree.Document) parser.TokenPayload {
	p := parser.TokenPayload{Title: doc.Title, TextTokens: []doctree.PageToken{}}
	for _, page := range doc.Pages {
		p.TextTokens = append(p.TextTokens, page.Tokens...)
		p.Pages = append(p.Pages, parser.PageMeta{
			Number: page.Number,
			Width:  page.Width,
			Height: page.Height,
			Text:   page.Text,
			Image:  page.Image,
		})
	}
	p.TotalTokens = len(p.TextTokens)
	return p
}

func newMapCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "map <findings.json> <tokens.json>",
		Short: "Place findings on pages and print regions, links and unmapped IDs",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMap(cmd.Context(), cmd.OutOrStdout(), args[0], args[1])
		},
	}
}

func runMap(ctx context.Context, w io.Writer, findingsPath, tokensPath string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	findings, err := readFindings(findingsPath)
	if err != nil {
		return err
	}
	raw, err := os.ReadFile(tokensPath)
	if err != nil {
		return err
	}
	var payload parser.TokenPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return fmt.Errorf("decode %s: %w", tokensPath, err)
	}

	m, err := coordmap.New(coordmap.DefaultOptions(), slog.New(slog.DiscardHandler))
	if err != nil {
		return err
	}
	rep, err := m.MapFindings(ctx, findings, parser.PagesFromTokens(payload))
	if err != nil {
		return err
	}
	links := highlight.BuildLinks(findings, rep.Regions)
	if links == nil {
		links = []highlight.Link{}
	}
	return writeJSON(w, struct {
		coordmap.Report
		Links []highlight.Link `json:"links"`
	}{rep, links})
}

// readFindings accepts a bare array or an object with a findings or
// issues array.
func readFindings(path string) ([]extract.Finding, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var list []extract.Finding
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}
	var wrapped struct {
		Findings []extract.Finding `json:"findings"`
		Issues   []extract.Finding `json:"issues"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if len(wrapped.Findings) > 0 {
		return wrapped.Findings, nil
	}
	return wrapped.Issues, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
