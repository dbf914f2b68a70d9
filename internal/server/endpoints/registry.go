package endpoints

import (
	"github.com/jackzampolin/folio/internal/api"
)

// All returns all endpoint instances.
func All() []api.Endpoint {
	return []api.Endpoint{
		// Health endpoints
		&HealthEndpoint{},
		&ReadyEndpoint{},
		&StatusEndpoint{},

		// Document endpoints
		&OpenDocumentEndpoint{},
		&ListDocumentsEndpoint{},
		&GetDocumentEndpoint{},
		&CloseDocumentEndpoint{},
		&SaveDocumentEndpoint{},

		// View endpoints
		&ViewportEndpoint{},
		&ZoomEndpoint{},
		&RotateEndpoint{},
		&NavigateEndpoint{},
		&EditModeEndpoint{},

		// Page endpoints
		&PageImageEndpoint{},
		&PageLayersEndpoint{},
		&StageAnnotationsEndpoint{},

		// Settings endpoints
		&ListSettingsEndpoint{},
		&GetSettingEndpoint{},
		&UpdateSettingEndpoint{},
		&ClearSettingEndpoint{},
		&ResetSettingEndpoint{},
	}
}

// DocumentCommands returns endpoints grouped under "documents".
func DocumentCommands() []api.Endpoint {
	return []api.Endpoint{
		&OpenDocumentEndpoint{},
		&ListDocumentsEndpoint{},
		&GetDocumentEndpoint{},
		&CloseDocumentEndpoint{},
		&SaveDocumentEndpoint{},
		&ViewportEndpoint{},
		&ZoomEndpoint{},
		&RotateEndpoint{},
		&NavigateEndpoint{},
		&EditModeEndpoint{},
	}
}

// PageCommands returns endpoints grouped under "pages".
func PageCommands() []api.Endpoint {
	return []api.Endpoint{
		&PageImageEndpoint{},
		&PageLayersEndpoint{},
		&StageAnnotationsEndpoint{},
	}
}

// SettingsCommands returns endpoints grouped under "settings".
func SettingsCommands() []api.Endpoint {
	return []api.Endpoint{
		&ListSettingsEndpoint{},
		&GetSettingEndpoint{},
		&UpdateSettingEndpoint{},
		&ClearSettingEndpoint{},
		&ResetSettingEndpoint{},
	}
}
