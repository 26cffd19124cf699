package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	billingeventdomain "github.com/smallbiznis/entitle/internal/billingevent/domain"
	"github.com/smallbiznis/entitle/pkg/db/pagination"
)

func (s *Server) ListEvents(c *gin.Context) {
	var query struct {
		pagination.Pagination
		EventType string `form:"event_type"`
		AccountID string `form:"account_id"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	var accountID snowflake.ID
	if raw := strings.TrimSpace(query.AccountID); raw != "" {
		parsed, err := snowflake.ParseString(raw)
		if err != nil {
			AbortWithError(c, newValidationError("account_id", "invalid_id", "invalid id"))
			return
		}
		accountID = parsed
	}

	resp, err := s.eventReader.List(c.Request.Context(), billingeventdomain.ListEventsRequest{
		EventType: strings.ToUpper(strings.TrimSpace(query.EventType)),
		AccountID: accountID,
		PageToken: query.PageToken,
		PageSize:  query.PageSize,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp.Events, "page_info": resp.PageInfo})
}
