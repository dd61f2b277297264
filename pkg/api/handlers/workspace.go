package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"chatloom/pkg/logger"
	"chatloom/pkg/models"
	"chatloom/pkg/store"
	"chatloom/pkg/utils"
)

// RegisterWorkspace registers catalog ingestion endpoints. These feed the
// repo/alert data the assistant tools read; only service callers may write.
func RegisterWorkspace(r *mux.Router) {
	r.HandleFunc("/workspaces/{ws}/repos", requireService(postRepo)).Methods(http.MethodPost)
	r.HandleFunc("/workspaces/{ws}/repos", requireService(listRepos)).Methods(http.MethodGet)
	r.HandleFunc("/workspaces/{ws}/alerts", requireService(postAlert)).Methods(http.MethodPost)
	r.HandleFunc("/workspaces/{ws}/alerts", requireService(listAlerts)).Methods(http.MethodGet)
}

// requireService rejects frontend callers; the gateway records the
// resolved role in X-Role-Name.
func requireService(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		role := r.Header.Get("X-Role-Name")
		if role != "backend" && role != "admin" {
			utils.JSONError(w, http.StatusForbidden, "backend or admin key required")
			return
		}
		if !store.Ready() {
			utils.JSONError(w, http.StatusServiceUnavailable, "store not ready")
			return
		}
		next(w, r)
	}
}

func postRepo(w http.ResponseWriter, r *http.Request) {
	ws := mux.Vars(r)["ws"]
	var repo models.Repo
	if err := json.NewDecoder(r.Body).Decode(&repo); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if repo.Name == "" {
		utils.JSONError(w, http.StatusBadRequest, "name required")
		return
	}
	if repo.CreatedTS == 0 {
		repo.CreatedTS = time.Now().UTC().UnixNano()
	}
	if err := store.SaveRepo(ws, repo); err != nil {
		logger.Error("repo_save_failed", "workspace", ws, "repo", repo.Name, "error", err.Error())
		utils.JSONError(w, http.StatusInternalServerError, "internal error")
		return
	}
	utils.JSONWrite(w, http.StatusCreated, repo)
}

func listRepos(w http.ResponseWriter, r *http.Request) {
	ws := mux.Vars(r)["ws"]
	repos, err := store.ListRepos(ws)
	if err != nil {
		logger.Error("repo_list_failed", "workspace", ws, "error", err.Error())
		utils.JSONError(w, http.StatusInternalServerError, "internal error")
		return
	}
	utils.JSONWrite(w, http.StatusOK, map[string]any{"repos": repos})
}

func postAlert(w http.ResponseWriter, r *http.Request) {
	ws := mux.Vars(r)["ws"]
	var a models.Alert
	if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if a.Repo == "" || a.Title == "" {
		utils.JSONError(w, http.StatusBadRequest, "repo and title required")
		return
	}
	if a.ID == "" {
		a.ID = utils.GenID()
	}
	if a.State == "" {
		a.State = models.AlertStateOpen
	}
	switch a.State {
	case models.AlertStateOpen, models.AlertStateAcknowledged, models.AlertStateResolved:
	default:
		utils.JSONError(w, http.StatusBadRequest, "unknown state")
		return
	}
	if a.CreatedTS == 0 {
		a.CreatedTS = time.Now().UTC().UnixNano()
	}
	if err := store.SaveAlert(ws, a); err != nil {
		logger.Error("alert_save_failed", "workspace", ws, "alert", a.ID, "error", err.Error())
		utils.JSONError(w, http.StatusInternalServerError, "internal error")
		return
	}
	utils.JSONWrite(w, http.StatusCreated, a)
}

func listAlerts(w http.ResponseWriter, r *http.Request) {
	ws := mux.Vars(r)["ws"]
	alerts, err := store.ListAlerts(ws, 0)
	if err != nil {
		logger.Error("alert_list_failed", "workspace", ws, "error", err.Error())
		utils.JSONError(w, http.StatusInternalServerError, "internal error")
		return
	}
	utils.JSONWrite(w, http.StatusOK, map[string]any{"alerts": alerts})
}
