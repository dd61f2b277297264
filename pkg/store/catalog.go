package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/pebble"
	"go.uber.org/zap"

	"chatloom/pkg/logger"
	"chatloom/pkg/models"
)

// Workspace catalog: the repos a workspace monitors and the alerts raised
// against them. Written by backend admin calls, read by the chat tools.

func repoKey(workspaceID, name string) []byte {
	return []byte("workspace:" + workspaceID + ":repo:" + name)
}

// SaveRepo upserts a monitored repo in the workspace catalog.
func SaveRepo(workspaceID string, r models.Repo) error {
	if db == nil {
		return notOpened()
	}
	if r.CreatedTS == 0 {
		r.CreatedTS = time.Now().UTC().UnixNano()
	}
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal repo: %w", err)
	}
	if err := db.Set(repoKey(workspaceID, r.Name), data, pebble.Sync); err != nil {
		logger.Log.Error("save_repo_failed", zap.String("workspace", workspaceID), zap.String("repo", r.Name), zap.Error(err))
		return err
	}
	logger.Log.Info("repo_saved", zap.String("workspace", workspaceID), zap.String("repo", r.Name))
	return nil
}

// ListRepos returns the repos a workspace monitors, ordered by name.
func ListRepos(workspaceID string) ([]models.Repo, error) {
	if db == nil {
		return nil, notOpened()
	}
	prefix := []byte("workspace:" + workspaceID + ":repo:")
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	out := []models.Repo{}
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		var r models.Repo
		if err := json.Unmarshal(iter.Value(), &r); err != nil {
			continue
		}
		out = append(out, r)
	}
	return out, iter.Error()
}

// SaveAlert appends an alert to the workspace catalog keyed by its created
// timestamp so range scans come back in time order.
func SaveAlert(workspaceID string, a models.Alert) error {
	if db == nil {
		return notOpened()
	}
	if a.CreatedTS == 0 {
		a.CreatedTS = time.Now().UTC().UnixNano()
	}
	s := atomic.AddUint64(&seq, 1)
	key := fmt.Sprintf("workspace:%s:alert:%020d-%06d", workspaceID, a.CreatedTS, s)
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	if err := db.Set([]byte(key), data, pebble.Sync); err != nil {
		logger.Log.Error("save_alert_failed", zap.String("workspace", workspaceID), zap.String("alert", a.ID), zap.Error(err))
		return err
	}
	logger.Log.Info("alert_saved", zap.String("workspace", workspaceID), zap.String("alert", a.ID), zap.String("repo", a.Repo))
	return nil
}

// ListAlerts returns alerts created at or after sinceTS (ns), time order
// ascending. sinceTS of zero scans everything.
func ListAlerts(workspaceID string, sinceTS int64) ([]models.Alert, error) {
	if db == nil {
		return nil, notOpened()
	}
	prefix := []byte("workspace:" + workspaceID + ":alert:")
	start := prefix
	if sinceTS > 0 {
		start = []byte(fmt.Sprintf("workspace:%s:alert:%020d", workspaceID, sinceTS))
	}
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	out := []models.Alert{}
	for iter.SeekGE(start); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		var a models.Alert
		if err := json.Unmarshal(iter.Value(), &a); err != nil {
			continue
		}
		out = append(out, a)
	}
	return out, iter.Error()
}
