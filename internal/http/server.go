package http

import (
	"strings"

	"github.com/gin-gonic/gin"
)

type Server struct {
	Engine *gin.Engine
}

func NewServer(cfg RouterConfig) *Server {
	return &Server{Engine: NewRouter(cfg)}
}

func (s *Server) Run(address string) error {
	if strings.TrimSpace(address) == "" {
		address = ":8080"
	}
	return s.Engine.Run(address)
}
