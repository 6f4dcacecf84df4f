package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strconv"

	"github.com/Dosada05/tournament-standings/models"
)

// StandingsArchive writes final phase snapshots as JSON documents
// under <prefix>/<tournament id>/<phase>.json.
type StandingsArchive struct {
	uploader FileUploader
	prefix   string
}

func NewStandingsArchive(uploader FileUploader, prefix string) *StandingsArchive {
	return &StandingsArchive{uploader: uploader, prefix: prefix}
}

func (a *StandingsArchive) Key(tournamentID int, phase string) string {
	return path.Join(a.prefix, strconv.Itoa(tournamentID), phase+".json")
}

// Archive returns the public location of the document, or its key when the
// bucket has no public URL.
func (a *StandingsArchive) Archive(ctx context.Context, ps *models.PhaseStanding) (string, error) {
	if ps == nil {
		return "", fmt.Errorf("archive: nil snapshot")
	}
	body, err := json.MarshalIndent(ps, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal phase standing %d/%s: %w", ps.TournamentID, ps.Phase, err)
	}

	result, err := a.uploader.Upload(ctx, a.Key(ps.TournamentID, ps.Phase), "application/json", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	if result.Location != "" {
		return result.Location, nil
	}
	return result.Key, nil
}
