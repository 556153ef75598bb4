package handler

import (
	"github.com/gin-gonic/gin/binding"
	validator "github.com/go-playground/validator/v10"

	"github.com/yourorg/derivatives-dashboard/internal/model"
)

// channelkind restricts string fields to the declared channel kinds so
// bad requests fail at binding time.
func init() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		v.RegisterValidation("channelkind", func(fl validator.FieldLevel) bool {
			return model.ChannelKind(fl.Field().String()).Valid()
		})
	}
}
