package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gamma-omg/rag-search/api"
	"github.com/gamma-omg/rag-search/apperr"
	"github.com/gamma-omg/rag-search/pipeline"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

type appOpener func() (*app, error)

func newRootCmd() *cobra.Command {
	var (
		cfgPath string
		reset   bool
	)

	root := &cobra.Command{
		Use:          "rag-search",
		Short:        "Chunk, embed and search documents",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "cfg/config.yaml", "configuration file")
	root.PersistentFlags().BoolVar(&reset, "reset", false, "reinitialize the database from scratch if set")

	open := func() (*app, error) {
		return newApp(cfgPath, reset)
	}

	root.AddCommand(
		newServeCmd(open),
		newIngestCmd(open),
		newSearchCmd(open),
		newDocumentsCmd(open),
		newDeleteCmd(open),
	)

	return root
}

func newServeCmd(open appOpener) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the MCP server and the document watcher",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open()
			if err != nil {
				return err
			}
			defer a.Close()

			return a.serve(cmd)
		},
	}
}

func (a *app) serve(cmd *cobra.Command) error {
	g, ctx := errgroup.WithContext(cmd.Context())

	httpCfg := a.cfg.HTTP
	if a.cfg.DocRoot != "" {
		// uploads land in the watched tree so the registry owns every document
		httpCfg.UploadDir = a.cfg.DocRoot

		reg := &DocRegistry{
			log:              a.log,
			root:             a.cfg.DocRoot,
			mergeEventsDelay: time.Duration(a.cfg.MergeEventsMs) * time.Millisecond,
			ingester:         a.ingester,
			catalog:          a.index,
			readers:          a.readers,
			files:            a.cfg.Limits,
		}

		g.Go(func() error {
			if err := reg.Sync(ctx); err != nil {
				return fmt.Errorf("initial sync failed: %w", err)
			}

			if err := reg.Watch(ctx); err != nil {
				return err
			}

			<-ctx.Done()
			return nil
		})
	}

	if httpCfg.Addr != "" {
		srv := api.NewServer(a.log, httpCfg, a.ingester, a.searcher, a.index, a.cfg.Limits, a.registry)
		g.Go(func() error {
			return srv.Serve(ctx)
		})
	}

	if a.cfg.ServerAddr != "" {
		sse := server.NewSSEServer(NewRagServer(a.searcher, a.index, a.cfg.Report),
			server.WithBaseURL(fmt.Sprintf("http://%s", a.cfg.ServerAddr)))

		g.Go(func() error {
			a.log.Info("mcp server starting", "addr", a.cfg.ServerAddr)
			if err := sse.Start(a.cfg.ServerAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return sse.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}

func newIngestCmd(open appOpener) *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "ingest FILE...",
		Short: "Ingest documents into the index",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if name != "" && len(args) > 1 {
				return errors.New("--name requires a single file")
			}

			a, err := open()
			if err != nil {
				return err
			}
			defer a.Close()

			var failed int
			for _, path := range args {
				var rep *pipeline.IngestReport
				if name != "" {
					rep, err = a.ingester.IngestAs(cmd.Context(), path, name)
				} else {
					rep, err = a.ingester.Ingest(cmd.Context(), path)
				}
				if err != nil {
					failed++
					cmd.PrintErrf("%s: %s\n", path, apperr.Public(err))
					continue
				}

				cmd.Printf("%s: %d pages, %d chunks (avg %.0f words/chunk) in %s\n",
					rep.Document, rep.Pages, rep.Chunks, rep.AvgWords, rep.Duration.Round(time.Millisecond))
			}

			if failed > 0 {
				return fmt.Errorf("%d of %d documents failed", failed, len(args))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "document name to store a single file under")

	return cmd
}

func newSearchCmd(open appOpener) *cobra.Command {
	var (
		topK     int
		minScore float64
		document string
		asJSON   bool
	)

	cmd := &cobra.Command{
		Use:   "search QUERY",
		Short: "Search the indexed documents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open()
			if err != nil {
				return err
			}
			defer a.Close()

			req := a.searcher.Defaults(args[0])
			if cmd.Flags().Changed("top-k") {
				req.TopK = topK
			}
			if cmd.Flags().Changed("min-score") {
				req.MinScore = minScore
			}
			req.Document = document

			resp, err := a.searcher.Search(cmd.Context(), req)
			if err != nil {
				return fmt.Errorf("search failed: %s", apperr.Public(err))
			}

			if asJSON {
				data, err := json.MarshalIndent(a.cfg.Report.Record(resp.Query, resp.Results, time.Now()), "", "  ")
				if err != nil {
					return fmt.Errorf("failed to marshal results: %w", err)
				}
				cmd.Println(string(data))
				return nil
			}

			if resp.Message != "" && len(resp.Results) == 0 {
				cmd.Println(resp.Message)
				return nil
			}
			cmd.Println(a.cfg.Report.Text(resp.Query, resp.Results))
			return nil
		},
	}
	cmd.Flags().IntVarP(&topK, "top-k", "k", 3, "maximum number of results")
	cmd.Flags().Float64Var(&minScore, "min-score", 0.3, "minimum similarity score")
	cmd.Flags().StringVar(&document, "document", "", "restrict the search to one document")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output results as JSON")

	return cmd
}

func newDocumentsCmd(open appOpener) *cobra.Command {
	return &cobra.Command{
		Use:   "documents",
		Short: "List indexed documents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open()
			if err != nil {
				return err
			}
			defer a.Close()

			docs, err := a.index.Documents(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to list documents: %s", apperr.Public(err))
			}

			if len(docs) == 0 {
				cmd.Println("No documents indexed.")
				return nil
			}
			for _, d := range docs {
				cmd.Printf("%s\t%d pages\t%d chunks\n", d.Name, d.Pages, d.Chunks)
			}
			return nil
		},
	}
}

func newDeleteCmd(open appOpener) *cobra.Command {
	return &cobra.Command{
		Use:   "delete NAME",
		Short: "Remove a document from the index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open()
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.index.DeleteDocument(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("failed to delete %s: %s", args[0], apperr.Public(err))
			}
			cmd.Printf("%s deleted\n", args[0])
			return nil
		},
	}
}
