package materials

import "github.com/gofiber/fiber/v2"

// RegisterRoutes mounts the material endpoints on an authenticated router.
func RegisterRoutes(r fiber.Router, d Deps) {
	r.Get("/material-used/export", ExportUsedMaterialsHandler(d))
	r.Get("/material-used", ListUsedMaterialsHandler(d))
	r.Post("/material-usage", AllocateUsageHandler(d))
	r.Get("/material-available", ListAvailableMaterialsHandler(d))
	r.Post("/material-available", AddStockHandler(d))
	r.Post("/material-available/import", ImportDeliveriesHandler(d))
}
