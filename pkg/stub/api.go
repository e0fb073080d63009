package stub

import (
	"net/http"

	"github.com/labstack/echo"
	"github.com/labstack/echo/middleware"
	echolog "github.com/labstack/gommon/log"
)

// StartApiServer exposes read-only inspection of the emulated state over
// http, behind the same jwt cookie auth the production api uses.
func StartApiServer(core *Core, jwtSecret string, port string) error {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Logger.SetLevel(echolog.DEBUG)

	r := e.Group("/api")
	r.Use(middleware.JWTWithConfig(middleware.JWTConfig{
		SigningKey:  []byte(jwtSecret),
		TokenLookup: "cookie:Authorization",
	}))

	r.GET("/users", func(c echo.Context) error {
		return c.JSON(http.StatusOK, core.Users())
	})
	r.GET("/jobs", func(c echo.Context) error {
		return c.JSON(http.StatusOK, core.Jobs())
	})

	err := e.Start(port)
	return err
}
