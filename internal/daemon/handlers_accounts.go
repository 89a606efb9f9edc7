package daemon

import (
	"net/http"

	"github.com/elsanchez/smart-publish/internal/auth"
	"github.com/elsanchez/smart-publish/internal/credentials"
	"github.com/elsanchez/smart-publish/internal/domain"
)

type accountsResponse struct {
	Accounts []*domain.Account `json:"accounts"`
	Count    int               `json:"count"`
}

// ListAccounts lista las cuentas con su estado, opcionalmente por plataforma
func (h *Handlers) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.Accounts.GetAll(r.Context(), r.URL.Query().Get("platform"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	if accounts == nil {
		accounts = []*domain.Account{}
	}
	writeJSON(w, http.StatusOK, accountsResponse{Accounts: accounts, Count: len(accounts)})
}

// ImportPayload es el payload para importar cookies
type ImportPayload struct {
	FilePath string `json:"file_path,omitempty"`
	Browser  string `json:"browser,omitempty"`
	Platform string `json:"platform,omitempty"`
	Label    string `json:"label"`
	Force    bool   `json:"force,omitempty"`
}

// ImportAccount crea o reemplaza una cuenta desde un archivo de cookies o
// desde el navegador local
func (h *Handlers) ImportAccount(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[ImportPayload](w, r)
	if !ok || !requireField(w, req.Label, "label") {
		return
	}

	acc, err := h.Importer.Import(r.Context(), credentials.ImportOptions{
		FilePath: req.FilePath,
		Browser:  req.Browser,
		Platform: req.Platform,
		Label:    req.Label,
		Force:    req.Force,
	})
	if err != nil {
		// Los errores del importador son de entrada salvo fallo de almacenamiento
		h.Logger.Warn("import failed", "label", req.Label, "err", err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.Logger.Info("account imported", "account", acc.ID, "platform", acc.Platform, "label", acc.Label)
	writeJSON(w, http.StatusCreated, map[string]any{"account": acc})
}

// ValidateResponse es el resultado de validar una cuenta
type ValidateResponse struct {
	Account *domain.Account `json:"account"`
	Verdict auth.Verdict    `json:"verdict"`
	Reason  string          `json:"reason,omitempty"`
}

// ValidateAccount comprueba la credencial contra la plataforma
func (h *Handlers) ValidateAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}

	acc, err := h.Accounts.GetByID(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	res := h.Validator.Validate(r.Context(), acc)

	// Releer para devolver el estado actualizado
	if updated, err := h.Accounts.GetByID(r.Context(), id); err == nil {
		acc = updated
	}
	writeJSON(w, http.StatusOK, ValidateResponse{Account: acc, Verdict: res.Verdict, Reason: res.Reason})
}

// ExportAccount escribe la credencial como archivo Netscape en path
func (h *Handlers) ExportAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	path := r.URL.Query().Get("path")
	if !requireField(w, path, "path") {
		return
	}

	n, err := h.Exporter.ExportByID(r.Context(), id, path)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"path": path, "cookies": n})
}

// DeleteAccount elimina la cuenta y su credencial
func (h *Handlers) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}

	acc, err := h.Accounts.GetByID(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	if err := h.Accounts.Delete(r.Context(), id); err != nil {
		h.writeServiceError(w, err)
		return
	}
	if err := h.Credentials.Delete(r.Context(), acc.CredentialRef); err != nil {
		h.Logger.Warn("delete credential failed", "account", id, "err", err)
	}

	h.Logger.Info("account deleted", "account", id, "platform", acc.Platform, "label", acc.Label)
	w.WriteHeader(http.StatusNoContent)
}
