// Copyright 2024 Seakee.  All rights reserved.
// Use of this source code is governed by a MIT style
// license that can be found in the LICENSE file.

package router

import (
	"github.com/gin-gonic/gin"
	"github.com/lutfianrhdn/sc-data-gathering-service/app/http/controller/supervisoradmin"
)

func supervisorGroup(api *gin.RouterGroup, core *Core) {
	admin := supervisoradmin.New(core.Logger, core.I18n, core.Supervisor)
	{
		api.GET("health", admin.Health())
		api.GET(":class/pending", admin.Pending())
		api.POST(":class/replay", admin.Replay())
	}
}
