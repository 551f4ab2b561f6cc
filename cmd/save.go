package cmd

import (
	"fmt"
	"os"

	"github.com/callscope/callscope/internal/engine"
	"github.com/callscope/callscope/internal/pcapio"
	"github.com/callscope/callscope/internal/storage"
)

// saveAll implements spec §6's "all" save-to-pcap scope: every call
// currently tracked by store is written to path, link type copied from the
// ingest source (spec §6: "link type copied from the ingest source").
func saveAll(path string, store *storage.Storage, eng *engine.Engine) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	w, err := pcapio.NewWriter(f, eng.LinkType())
	if err != nil {
		return err
	}
	return w.WriteAll(store.Calls())
}
