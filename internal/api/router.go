package api

import (
	"errors"
	"net/http"

	"github.com/Kmccabe/bTree-sub000/internal/middleware"
	"github.com/Kmccabe/bTree-sub000/internal/model"
	"github.com/Kmccabe/bTree-sub000/internal/service"
	gameSvc "github.com/Kmccabe/bTree-sub000/internal/service/game"
	"github.com/Kmccabe/bTree-sub000/internal/ws"
	appErr "github.com/Kmccabe/bTree-sub000/pkg/errors"
	"github.com/Kmccabe/bTree-sub000/pkg/response"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	services *service.Container
}

func RegisterRoutes(r *gin.Engine, services *service.Container) {
	handler := &Handler{services: services}
	wsHandler := ws.NewHandler(services.Experiment, services.Game, services.Hub)

	r.GET("/ping", func(c *gin.Context) {
		response.Success(c, gin.H{"message": "pong"})
	})

	v1 := r.Group("/btree/v1")
	{
		v1.POST("/experiments", handler.CreateExperiment)
		v1.GET("/experiments/:id", handler.GetExperiment)
		v1.POST("/experiments/:id/join", handler.JoinExperiment)

		v1.GET("/games/:id", handler.GetGame)
		v1.PUT("/games/:id", handler.UpdateGame)
	}

	adminGroup := r.Group("/admin")
	{
		adminGroup.POST("/auth/login", handler.AdminLogin)

		protected := adminGroup.Group("/")
		protected.Use(middleware.AdminAuthRequired())
		{
			protected.GET("/experiments", handler.AdminListExperiments)
			protected.POST("/games", handler.AdminCreateGame)
		}
	}

	r.GET("/ws", wsHandler.HandleWS)
}

type gameParametersBody struct {
	InitialEndowment float64 `json:"initialEndowment" binding:"required,gt=0"`
	Multiplier       float64 `json:"multiplier" binding:"required,gte=1"`
	Rounds           int     `json:"rounds" binding:"omitempty,min=1"`
	IncrementSize    float64 `json:"incrementSize" binding:"omitempty,gt=0"`
	TimePerDecision  int     `json:"timePerDecision" binding:"omitempty,min=0"`
	Anonymity        bool    `json:"anonymity"`
	RoleAssignment   string  `json:"roleAssignment" binding:"omitempty,oneof=sequential random"`
}

func (b gameParametersBody) toParams() model.GameParameters {
	params := model.GameParameters{
		InitialEndowment: b.InitialEndowment,
		Multiplier:       b.Multiplier,
		Rounds:           b.Rounds,
		IncrementSize:    b.IncrementSize,
		TimePerDecision:  b.TimePerDecision,
		Anonymity:        b.Anonymity,
		RoleAssignment:   b.RoleAssignment,
	}
	if params.Rounds == 0 {
		params.Rounds = 1
	}
	if params.IncrementSize == 0 {
		params.IncrementSize = 0.1
	}
	if params.TimePerDecision == 0 {
		params.TimePerDecision = 30
	}
	if params.RoleAssignment == "" {
		params.RoleAssignment = "sequential"
	}
	return params
}

type createExperimentBody struct {
	MaxParticipants int                `json:"maxParticipants" binding:"required,min=2"`
	GameParameters  gameParametersBody `json:"gameParameters" binding:"required"`
}

type joinExperimentBody struct {
	WalletAddress string `json:"walletAddress" binding:"required"`
	SessionID     string `json:"sessionId" binding:"required"`
}

type adminLoginBody struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type adminCreateGameBody struct {
	ExperimentID string `json:"experimentId" binding:"required"`
}

func (h *Handler) CreateExperiment(c *gin.Context) {
	var body createExperimentBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}

	exp, err := h.services.Experiment.Create(body.MaxParticipants, body.GameParameters.toParams())
	if err != nil {
		response.Error(c, statusForError(err), err.Error())
		return
	}
	response.Success(c, exp)
}

func (h *Handler) GetExperiment(c *gin.Context) {
	exp, err := h.services.Experiment.Get(c.Param("id"))
	if err != nil {
		response.Error(c, statusForError(err), err.Error())
		return
	}
	response.Success(c, exp)
}

func (h *Handler) JoinExperiment(c *gin.Context) {
	var body joinExperimentBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}

	participant, err := h.services.Experiment.Join(c.Param("id"), body.WalletAddress, body.SessionID)
	if err != nil {
		response.Error(c, statusForError(err), err.Error())
		return
	}
	response.Success(c, participant)
}

func (h *Handler) GetGame(c *gin.Context) {
	sess, err := h.services.Game.Get(c.Param("id"))
	if err != nil {
		response.Error(c, statusForError(err), err.Error())
		return
	}
	response.Success(c, sess)
}

func (h *Handler) UpdateGame(c *gin.Context) {
	var update gameSvc.StateUpdate
	if err := c.ShouldBindJSON(&update); err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}

	state, err := h.services.Game.UpdateState(c.Param("id"), update)
	if err != nil {
		response.Error(c, statusForError(err), err.Error())
		return
	}
	response.Success(c, state)
}

func (h *Handler) AdminLogin(c *gin.Context) {
	var body adminLoginBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := h.services.Admin.Login(body.Username, body.Password)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, appErr.ErrAdminNotFound), errors.Is(err, appErr.ErrInvalidAdminPassword):
			status = http.StatusUnauthorized
		}
		response.Error(c, status, err.Error())
		return
	}
	response.Success(c, resp)
}

func (h *Handler) AdminListExperiments(c *gin.Context) {
	response.Success(c, gin.H{"experiments": h.services.Experiment.List()})
}

func (h *Handler) AdminCreateGame(c *gin.Context) {
	var body adminCreateGameBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}

	sess, err := h.services.Game.CreateSession(body.ExperimentID)
	if err != nil {
		response.Error(c, statusForError(err), err.Error())
		return
	}
	response.Success(c, sess)
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, appErr.ErrExperimentNotFound),
		errors.Is(err, appErr.ErrGameNotFound),
		errors.Is(err, appErr.ErrParticipantNotFound):
		return http.StatusNotFound
	case errors.Is(err, appErr.ErrExperimentFull),
		errors.Is(err, appErr.ErrGameAlreadyStarted),
		errors.Is(err, appErr.ErrExperimentCompleted),
		errors.Is(err, appErr.ErrStaleVersion):
		return http.StatusConflict
	case errors.Is(err, appErr.ErrInvalidParameters):
		return http.StatusBadRequest
	case errors.Is(err, appErr.ErrUnauthorized):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}
