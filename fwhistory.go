// Package fwhistory looks up the firmware release history of a device by
// model and region, merged with the published changelogs.
package fwhistory

import (
	"context"
	"errors"
	"fmt"

	"github.com/mordilloSan/go-logger/logger"

	"github.com/paulstuart/fwhistory/pkg/config"
	"github.com/paulstuart/fwhistory/pkg/job"
	"github.com/paulstuart/fwhistory/pkg/model"
	"github.com/paulstuart/fwhistory/pkg/scraper"
)

var (
	// ErrInvalidDevice is returned when the model or region is blank.
	ErrInvalidDevice = errors.New("model and region are required")
	// ErrHistory wraps the status of a fetch that did not succeed.
	ErrHistory = errors.New("firmware history unavailable")
)

// Lookup fetches the history for a device and blocks until it is done.
func Lookup(ctx context.Context, cfg config.Config, deviceModel, region string) ([]model.Release, error) {
	client := scraper.New(cfg)

	var opts []job.Option
	if cfg.Changelogs {
		opts = append(opts, job.WithChangelogs(client))
	}
	j := job.New(client, opts...)

	if !j.Start(ctx, deviceModel, region) {
		return nil, ErrInvalidDevice
	}
	j.Wait()

	snap := j.Snapshot()
	switch snap.State {
	case job.Succeeded:
		logger.Infof("Found %d firmware releases for %s/%s", len(snap.Items), deviceModel, region)
		return Merge(snap.Items, snap.Changelogs), nil
	case job.Cancelled:
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, context.Canceled
	default:
		return nil, fmt.Errorf("%w: %s", ErrHistory, snap.StatusText)
	}
}

// Merge pairs each history entry with the changelog for its build prefix.
func Merge(items []model.HistoryInfo, index *model.ChangelogIndex) []model.Release {
	releases := make([]model.Release, 0, len(items))
	for _, item := range items {
		release := model.Release{HistoryInfo: item}
		if cl, ok := index.Lookup(item.FirmwareString); ok {
			release.Changelog = &cl
		}
		releases = append(releases, release)
	}
	return releases
}
