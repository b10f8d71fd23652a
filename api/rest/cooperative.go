package rest

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nisekogame/backend/audit"
	"github.com/nisekogame/backend/game/coop"
	"github.com/nisekogame/backend/metrics"
	"go.uber.org/zap"
)

const (
	defaultTopLimit = 10
	maxTopLimit     = 100
)

// CooperativeHandler handles the cooperative score ledger endpoints.
type CooperativeHandler struct {
	ledger  *coop.Ledger
	audit   *audit.Service
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewCooperativeHandler creates a CooperativeHandler. auditSvc and m may be nil.
func NewCooperativeHandler(ledger *coop.Ledger, auditSvc *audit.Service, m *metrics.Metrics, logger *zap.Logger) *CooperativeHandler {
	return &CooperativeHandler{ledger: ledger, audit: auditSvc, metrics: m, logger: logger}
}

// saveCoopRequest accepts players by name ("player1", or the older
// "player1_name") or by id ("player1_id").
type saveCoopRequest struct {
	Player1      string          `json:"player1,omitempty"`
	Player2      string          `json:"player2,omitempty"`
	Player1Name  string          `json:"player1_name,omitempty"`
	Player2Name  string          `json:"player2_name,omitempty"`
	Player1ID    int64           `json:"player1_id,omitempty"`
	Player2ID    int64           `json:"player2_id,omitempty"`
	HighestScore json.RawMessage `json:"highest_score"`
}

func (r saveCoopRequest) refs() (coop.PlayerRef, coop.PlayerRef) {
	a := coop.PlayerRef{ID: r.Player1ID, Name: r.Player1}
	if a.Name == "" {
		a.Name = r.Player1Name
	}
	b := coop.PlayerRef{ID: r.Player2ID, Name: r.Player2}
	if b.Name == "" {
		b.Name = r.Player2Name
	}
	return a, b
}

// Save handles POST /save_cooperative_players.
func (h *CooperativeHandler) Save(c *gin.Context) {
	start := time.Now()
	var req saveCoopRequest
	err := c.ShouldBindJSON(&req)
	if err != nil {
		err = bindError(err)
	}
	a, b := req.refs()

	var res *coop.Result
	if err == nil {
		s, scoreErr := parseScore(req.HighestScore)
		if scoreErr != nil {
			// Player errors outrank a malformed score.
			if err = h.ledger.CheckPair(c.Request.Context(), a, b); err == nil {
				err = scoreErr
			}
		} else {
			res, err = h.ledger.SubmitScore(c.Request.Context(), a, b, s)
		}
	}

	recordAudit(c, h.audit, "save_cooperative_players", a.String()+"/"+b.String(), req, err, start)
	h.metrics.ObserveSubmission(metrics.KindCoop, outcomeLabel(err))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":        "ok",
		"highest_score": res.HighestScore,
		"created":       res.Created,
	})
}

// ListWithDetails handles GET /get_cooperative_players_with_details.
func (h *CooperativeHandler) ListWithDetails(c *gin.Context) {
	pairs, err := h.ledger.ListAll(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, pairs)
}

// GetPair handles GET /get_cooperative_pair?player1=&player2=.
func (h *CooperativeHandler) GetPair(c *gin.Context) {
	a := coop.PlayerRef{Name: c.Query("player1")}
	b := coop.PlayerRef{Name: c.Query("player2")}
	pair, err := h.ledger.Get(c.Request.Context(), a, b)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, pair)
}

// rankedPair is a leaderboard row.
type rankedPair struct {
	Rank int `json:"rank"`
	coop.PairDetail
}

// TopThree handles GET /get_top_three_cooperative_players.
func (h *CooperativeHandler) TopThree(c *gin.Context) {
	h.top(c, 3)
}

// Top handles GET /get_top_cooperative_players?limit=n.
func (h *CooperativeHandler) Top(c *gin.Context) {
	limit := defaultTopLimit
	if l, err := strconv.Atoi(c.Query("limit")); err == nil && l > 0 && l <= maxTopLimit {
		limit = l
	}
	h.top(c, limit)
}

func (h *CooperativeHandler) top(c *gin.Context, n int) {
	pairs, err := h.ledger.TopN(c.Request.Context(), n)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	out := make([]rankedPair, len(pairs))
	for i, p := range pairs {
		out[i] = rankedPair{Rank: i + 1, PairDetail: p}
	}
	c.JSON(http.StatusOK, out)
}
