package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"

	charmlog "github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/stratumhq/stratum/internal/checksum"
	"github.com/stratumhq/stratum/internal/config"
	"github.com/stratumhq/stratum/internal/domain"
	"github.com/stratumhq/stratum/internal/storage"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Re-verify stored image checksums",
	Long:  `Stream every verified layer back through the checksum engine and report images whose stored checksums no longer match their content.`,
	Run:   runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) {
	cfg, err := config.Load()
	if err != nil {
		charmlog.Fatal("Failed to load config", "error", err)
	}

	store, closeCache, err := openStorage(cfg)
	if err != nil {
		charmlog.Fatal("Failed to initialize storage", "error", err)
	}
	defer closeCache() //nolint:errcheck

	ctx := context.Background()
	imageKeys, err := store.List(ctx, "images")
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			charmlog.Info("No images stored")
			return
		}
		charmlog.Fatal("Failed to list images", "error", err)
	}

	var checked, bad int
	for _, key := range imageKeys {
		imageID := key[strings.LastIndex(key, "/")+1:]
		ok, err := verifyImage(ctx, store, imageID)
		if err != nil {
			charmlog.Warn("Skipping image", "image_id", imageID, "reason", err)
			continue
		}
		checked++
		if !ok {
			bad++
			charmlog.Error("Checksum mismatch", "image_id", imageID)
		}
	}

	charmlog.Info("Check complete", "checked", checked, "mismatched", bad)
}

// verifyImage recomputes the checksum set of one verified image and reports
// whether the stored set is still covered by it.
func verifyImage(ctx context.Context, store storage.Driver, imageID string) (bool, error) {
	marked, err := store.Exists(ctx, storage.ImageMarkPath(imageID))
	if err != nil {
		return false, err
	}
	if marked {
		return false, errors.New("upload in progress")
	}

	stored, err := store.Get(ctx, storage.ImageChecksumPath(imageID))
	if err != nil {
		return false, err
	}
	var storedSums checksum.Set
	if err := json.Unmarshal(stored, &storedSums); err != nil {
		return false, err
	}

	jsonData, err := store.Get(ctx, storage.ImageJSONPath(imageID))
	if err != nil {
		return false, err
	}
	layer, err := store.StreamRead(ctx, storage.ImageLayerPath(imageID), nil)
	if err != nil {
		return false, err
	}
	defer layer.Close()

	tap := checksum.NewTap(jsonData)
	if _, err := io.Copy(io.Discard, tap.Tee(layer)); err != nil {
		return false, err
	}
	computed, _ := tap.Sums()

	for _, sum := range storedSums {
		if !computed.Contains(sum) {
			return false, nil
		}
	}
	return true, nil
}
