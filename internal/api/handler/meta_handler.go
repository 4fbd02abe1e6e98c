package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/TencentBlueKing/bk-nodeman-sub006/internal/adapter/cmdb"
	"github.com/TencentBlueKing/bk-nodeman-sub006/pkg/responses"
)

// MetaHandler 透传配置平台元数据查询
type MetaHandler struct {
	cmdb cmdb.Client
}

func NewMetaHandler(cmdbClient cmdb.Client) *MetaHandler {
	return &MetaHandler{cmdb: cmdbClient}
}

// ListBiz 查询业务列表，供前端选择订阅范围
func (h *MetaHandler) ListBiz(c *gin.Context) {
	bizs, err := h.cmdb.SearchBiz(c.Request.Context(), cmdb.SearchFilter{
		Fields: []string{"bk_biz_id", "bk_biz_name"},
	})
	if err != nil {
		responses.Error(c, err)
		return
	}
	responses.Success(c, bizs)
}
