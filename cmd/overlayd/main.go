// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Command overlayd starts exactly one overlay process: it loads the
// static topology document, materializes this node's shard (if it owns
// one), and serves the §6 wire protocol until terminated. Spawning all
// six processes, routing their logs, and tracking their PIDs is the
// out-of-scope external harness named in spec.md §1c.
package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/sixnode/overlay/csvstore"
	"github.com/sixnode/overlay/node"
	"github.com/sixnode/overlay/topology"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		configPath string
		id         string
		dataDir    string
	)

	cmd := &cobra.Command{
		Use:   "overlayd",
		Short: "Run one distributed-query-overlay process",
		Long: `overlayd starts a single node of the six-process query overlay
described by the static topology document. Each of the six processes
(A-F) runs its own overlayd instance with the same --config and a
distinct --id.`,
		RunE: func(_ *cobra.Command, _ []string) error {
			return run(configPath, id, dataDir)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to the topology YAML document (required)")
	cmd.Flags().StringVar(&id, "id", "", "this process's node id, A-F (required)")
	cmd.Flags().StringVar(&dataDir, "data-dir", "", "directory of <start>_<end>.csv shard files (required for workers)")
	cmd.MarkFlagRequired("config")
	cmd.MarkFlagRequired("id")

	return cmd
}

func run(configPath, id, dataDir string) error {
	logger := log.New(os.Stderr, fmt.Sprintf("[%s] ", id), log.LstdFlags)

	cfg, err := topology.Load(configPath)
	if err != nil {
		logger.Fatalf("loading topology: %v", err)
	}

	loader := csvstore.Loader{Dir: dataDir}
	n, err := node.Build(cfg, id, loader, logger, prometheus.DefaultRegisterer)
	if err != nil {
		logger.Fatalf("building node %s: %v", id, err)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		logger.Printf("shutting down")
		n.Close()
	}()

	logger.Printf("serving on %s (role=%s team=%s)", n.Endpoint(), cfg.Processes[id].Role, cfg.Processes[id].Team)
	if err := n.Serve(); err != nil && !isClosedErr(err) {
		return fmt.Errorf("overlayd: %w", err)
	}
	return nil
}

func isClosedErr(err error) bool {
	return err.Error() == "http: Server closed"
}
