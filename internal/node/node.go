package node

import "github.com/gin-gonic/gin"

// Node is a process that exposes an HTTP router under a stable id.
type Node interface {
	NodeID() string
	Kind() string
	HTTPRouter() *gin.Engine
}
