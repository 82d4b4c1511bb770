package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/batua/wallet/src/domain"
	"github.com/batua/wallet/src/service/credential"
	"github.com/gin-gonic/gin"
)

var errRequiredCredential = errors.New("prompt response has neither credential nor dismissal")

type AuthenticatorHandler struct {
	authenticator *credential.RemoteAuthenticator
}

func NewAuthenticatorHandler(authenticator *credential.RemoteAuthenticator) *AuthenticatorHandler {
	return &AuthenticatorHandler{authenticator: authenticator}
}

// PromptResponse carries the page's answer to an authenticator prompt:
// either the PublicKeyCredential JSON or a dismissal.
type PromptResponse struct {
	Credential json.RawMessage `json:"credential"`
	Dismissed  bool            `json:"dismissed"`
}

// ListPrompts godoc
// @Summary Open authenticator prompts
// @Tags authenticator
// @Produce json
// @Success 200 {object} StandardResponse{data=[]credential.Prompt}
// @Router /authenticator [get]
func (h *AuthenticatorHandler) ListPrompts(c *gin.Context) {
	respondWithSuccess(c, h.authenticator.Pending())
}

// Respond godoc
// @Summary Answer an authenticator prompt
// @Description Post the result of navigator.credentials.create or get, or report that the user closed the dialog.
// @Tags authenticator
// @Accept json
// @Produce json
// @Param promptId path string true "Prompt id"
// @Param request body PromptResponse true "Credential or dismissal"
// @Success 200 {object} StandardResponse
// @Failure 400 {object} StandardResponse
// @Failure 404 {object} StandardResponse
// @Router /authenticator/{promptId} [post]
func (h *AuthenticatorHandler) Respond(c *gin.Context) {
	id := c.Param("promptId")

	var body PromptResponse
	if err := c.ShouldBindJSON(&body); err != nil {
		respondWithError(c, domain.NewError(domain.ErrorCodeParameterInvalid, err, domain.WithMsg("invalid parameter")))
		return
	}

	var err error
	switch {
	case body.Dismissed:
		err = h.authenticator.Dismiss(id)
	case len(body.Credential) > 0:
		err = h.authenticator.Respond(id, body.Credential)
	default:
		err = domain.NewError(domain.ErrorCodeParameterInvalid, errRequiredCredential, domain.WithMsg("credential or dismissed is required"))
	}
	if err != nil {
		respondWithError(c, err)
		return
	}
	respondWithSuccessAndStatus(c, http.StatusOK, nil)
}
