package rest

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nisekogame/backend/audit"
	"github.com/nisekogame/backend/game/character"
	"github.com/nisekogame/backend/game/score"
	"github.com/nisekogame/backend/metrics"
	"github.com/nisekogame/backend/model"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

// maxBodyBytes caps character documents.
const maxBodyBytes = 64 << 10

// CharacterHandler handles character REST endpoints.
type CharacterHandler struct {
	chars   *character.Service
	audit   *audit.Service
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewCharacterHandler creates a new CharacterHandler. auditSvc and m may be nil.
func NewCharacterHandler(chars *character.Service, auditSvc *audit.Service, m *metrics.Metrics, logger *zap.Logger) *CharacterHandler {
	return &CharacterHandler{chars: chars, audit: auditSvc, metrics: m, logger: logger}
}

type characterView struct {
	Name       string         `json:"name"`
	Attributes datatypes.JSON `json:"attributes"`
}

type characterScoreView struct {
	Name         string         `json:"name"`
	HighestScore int64          `json:"highest_score"`
	Attributes   datatypes.JSON `json:"attributes"`
}

// Save handles POST /save_character.
// The body is {"name": ..., <any cosmetic fields>}; everything but the name
// is stored as the character's attribute document.
func (h *CharacterHandler) Save(c *gin.Context) {
	start := time.Now()
	name, attrs, err := readCharacterDocument(c)
	var char *model.Character
	if err == nil {
		char, err = h.chars.Create(c.Request.Context(), name, attrs)
	}
	recordAudit(c, h.audit, "save_character", name, json.RawMessage(attrs), err, start)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	h.metrics.CharacterCreated()
	c.JSON(http.StatusCreated, gin.H{"status": "ok", "character_id": char.ID})
}

type nameRequest struct {
	Name string `json:"name"`
}

// CheckExists handles POST /check_character_exists.
func (h *CharacterHandler) CheckExists(c *gin.Context) {
	var req nameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, h.logger, bindError(err))
		return
	}
	exists, err := h.chars.Exists(c.Request.Context(), req.Name)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"exists": exists})
}

// Get handles GET /get_character/:name and answers with the document that
// was saved: the attributes plus the name.
func (h *CharacterHandler) Get(c *gin.Context) {
	char, err := h.chars.GetByName(c.Request.Context(), c.Param("name"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	doc := map[string]json.RawMessage{}
	if len(char.Attributes) > 0 {
		if err := json.Unmarshal(char.Attributes, &doc); err != nil {
			respondError(c, h.logger, err)
			return
		}
	}
	nameJSON, _ := json.Marshal(char.Name)
	doc["name"] = nameJSON
	c.JSON(http.StatusOK, doc)
}

// List handles GET /get_all_characters.
func (h *CharacterHandler) List(c *gin.Context) {
	chars, err := h.chars.ListAll(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	out := make([]characterView, len(chars))
	for i, ch := range chars {
		out[i] = characterView{Name: ch.Name, Attributes: ch.Attributes}
	}
	c.JSON(http.StatusOK, out)
}

// ListWithScores handles GET /get_all_characters_with_highest_score.
func (h *CharacterHandler) ListWithScores(c *gin.Context) {
	chars, err := h.chars.ListAll(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	out := make([]characterScoreView, len(chars))
	for i, ch := range chars {
		out[i] = characterScoreView{Name: ch.Name, HighestScore: ch.HighestScore, Attributes: ch.Attributes}
	}
	c.JSON(http.StatusOK, out)
}

type soloScoreRequest struct {
	Name         string          `json:"name"`
	HighestScore json.RawMessage `json:"highest_score"`
}

// SaveSoloScore handles POST /save_solo_score.
func (h *CharacterHandler) SaveSoloScore(c *gin.Context) {
	start := time.Now()
	var req soloScoreRequest
	err := c.ShouldBindJSON(&req)
	if err != nil {
		err = bindError(err)
	}
	var (
		s    int64
		char *model.Character
	)
	if err == nil {
		var scoreErr error
		if s, scoreErr = parseScore(req.HighestScore); scoreErr != nil {
			if _, err = h.chars.GetByName(c.Request.Context(), req.Name); err == nil {
				err = scoreErr
			}
		} else {
			char, err = h.chars.SubmitSoloScore(c.Request.Context(), req.Name, s)
		}
	}
	recordAudit(c, h.audit, "save_solo_score", req.Name, req, err, start)
	h.metrics.ObserveSubmission(metrics.KindSolo, outcomeLabel(err))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "highest_score": char.HighestScore})
}

// readCharacterDocument splits the request body into the name and the
// remaining attribute object.
func readCharacterDocument(c *gin.Context) (string, json.RawMessage, error) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes))
	if err != nil {
		return "", nil, bindError(err)
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(body, &doc); err != nil || doc == nil {
		return "", nil, bindError(errors.New("body must be a JSON object"))
	}
	var name string
	if err := json.Unmarshal(doc["name"], &name); err != nil {
		return "", nil, bindError(errors.New("name must be a string"))
	}
	delete(doc, "name")
	attrs, err := json.Marshal(doc)
	if err != nil {
		return "", nil, bindError(err)
	}
	return strings.TrimSpace(name), attrs, nil
}

// parseScore reads the raw highest_score field. Anything but a JSON integer
// literal, including a missing field or a quoted number, is an invalid score.
func parseScore(raw json.RawMessage) (int64, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return 0, score.ErrInvalidScore
	}
	n, ok := v.(json.Number)
	if !ok {
		return 0, score.ErrInvalidScore
	}
	return score.ParseJSONNumber(n)
}
