package api

import (
	"github.com/gin-gonic/gin"
)

func SetupRoutes(router *gin.Engine, handler *Handler) {
	router.GET("/health", handler.HealthCheck)

	v1 := router.Group("/api/v1")
	{
		v1.POST("/runs", handler.TriggerRun)
		v1.GET("/runs/:id", handler.GetJob)

		v1.GET("/grade-rules", handler.ListGradeRules)
		v1.POST("/grade-rules/import", handler.ImportGradeRules)

		v1.GET("/terms/current", handler.GetCurrentTerm)
		v1.GET("/terms/:id/grades", handler.GetTermGrades)
	}
}
