package server

import (
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	sessiondomain "github.com/lumacallabs/lumacall/internal/session/domain"
)

type createSessionRequest struct {
	InitiatorID   snowflake.ID  `json:"initiator_id" binding:"required"`
	PrimaryPeerID *snowflake.ID `json:"primary_peer_id"`
	Kind          string        `json:"kind" binding:"required"`
	Medium        string        `json:"medium"`
}

func (s *Server) CreateSession(c *gin.Context) {
	var req createSessionRequest
	if !bindJSON(c, &req) {
		return
	}

	session, err := s.sessionSvc.Create(c.Request.Context(), sessiondomain.CreateRequest{
		InitiatorID:   req.InitiatorID,
		PrimaryPeerID: req.PrimaryPeerID,
		Kind:          sessiondomain.SessionKind(strings.TrimSpace(req.Kind)),
		Medium:        sessiondomain.CallMedium(strings.TrimSpace(req.Medium)),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, session)
}

func (s *Server) GetSession(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	session, err := s.sessionSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, session)
}

type startCallRequest struct {
	CallerID snowflake.ID `json:"caller_id" binding:"required"`
	Medium   string       `json:"medium" binding:"required"`
}

func (s *Server) StartCall(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req startCallRequest
	if !bindJSON(c, &req) {
		return
	}

	session, err := s.sessionSvc.StartCall(c.Request.Context(), id, req.CallerID, sessiondomain.CallMedium(req.Medium))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, session)
}

type matchSessionRequest struct {
	PeerID snowflake.ID `json:"peer_id" binding:"required"`
}

func (s *Server) MatchSession(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req matchSessionRequest
	if !bindJSON(c, &req) {
		return
	}

	session, err := s.sessionSvc.Match(c.Request.Context(), id, req.PeerID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, session)
}

type respondSessionRequest struct {
	ResponderID snowflake.ID `json:"responder_id" binding:"required"`
	Reason      string       `json:"reason"`
}

func (s *Server) AnswerSession(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req respondSessionRequest
	if !bindJSON(c, &req) {
		return
	}

	session, err := s.sessionSvc.Answer(c.Request.Context(), id, req.ResponderID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, session)
}

func (s *Server) RejectSession(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req respondSessionRequest
	if !bindJSON(c, &req) {
		return
	}

	session, err := s.sessionSvc.Reject(c.Request.Context(), id, req.ResponderID, req.Reason)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, session)
}

type actorRequest struct {
	ActorID snowflake.ID `json:"actor_id" binding:"required"`
	Reason  string       `json:"reason"`
}

func (s *Server) CancelSession(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req actorRequest
	if !bindJSON(c, &req) {
		return
	}

	session, err := s.sessionSvc.Cancel(c.Request.Context(), id, req.ActorID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, session)
}

func (s *Server) EndSession(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req actorRequest
	if !bindJSON(c, &req) {
		return
	}

	reason := req.Reason
	if reason == "" {
		reason = sessiondomain.EndReasonHangup
	}
	session, err := s.sessionSvc.End(c.Request.Context(), id, req.ActorID, reason)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, session)
}

type inviteSecondPeerRequest struct {
	CandidateID snowflake.ID `json:"candidate_id" binding:"required"`
}

func (s *Server) InviteSecondPeer(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req inviteSecondPeerRequest
	if !bindJSON(c, &req) {
		return
	}

	session, err := s.sessionSvc.InviteSecondPeer(c.Request.Context(), id, req.CandidateID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, session)
}

type respondSecondPeerRequest struct {
	Accept bool `json:"accept"`
}

func (s *Server) RespondSecondPeer(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req respondSecondPeerRequest
	if !bindJSON(c, &req) {
		return
	}

	session, err := s.sessionSvc.RespondSecondPeer(c.Request.Context(), id, req.Accept)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, session)
}
