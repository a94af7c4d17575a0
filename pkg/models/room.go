package models

// WindowMode is the initial layout mode of one managed window.
type WindowMode string

const (
	WindowFree     WindowMode = "free"
	WindowAlwaysOn WindowMode = "always-open"
	WindowInitOpen WindowMode = "init-window-open"
	WindowInitHide WindowMode = "init-window-hide"
)

// WindowSettings holds the layout mode of each managed window.
type WindowSettings struct {
	Chat           WindowMode `json:"chat"`
	Resource       WindowMode `json:"resource"`
	Initiative     WindowMode `json:"initiative"`
	ChatPalette    WindowMode `json:"chatPalette"`
	CounterRemocon WindowMode `json:"counterRemocon"`
}

// RoomSettings is the display-toggle portion of the room-settings document.
type RoomSettings struct {
	Visitable          bool           `json:"visitable"`
	IsFitGrid          bool           `json:"isFitGrid"`
	IsViewDice         bool           `json:"isViewDice"`
	IsViewCutIn        bool           `json:"isViewCutIn"`
	IsDrawGridID       bool           `json:"isDrawGridId"`
	MapRotatable       bool           `json:"mapRotatable"`
	IsDrawGridLine     bool           `json:"isDrawGridLine"`
	IsShowStandImage   bool           `json:"isShowStandImage"`
	IsShowRotateMarker bool           `json:"isShowRotateMarker"`
	WindowSettings     WindowSettings `json:"windowSettings"`
}

// RoomData is the singleton room-settings document.
type RoomData struct {
	Name     string       `json:"name"`
	SceneID  string       `json:"sceneId"`
	Settings RoomSettings `json:"settings"`
}

// PartialRoomData is a sparse update to RoomData: nil fields are left as-is.
type PartialRoomData struct {
	Name     *string              `json:"name,omitempty"`
	SceneID  *string              `json:"sceneId,omitempty"`
	Settings *PartialRoomSettings `json:"settings,omitempty"`
}

// PartialRoomSettings is the sparse counterpart of RoomSettings.
type PartialRoomSettings struct {
	Visitable          *bool                  `json:"visitable,omitempty"`
	IsFitGrid          *bool                  `json:"isFitGrid,omitempty"`
	IsViewDice         *bool                  `json:"isViewDice,omitempty"`
	IsViewCutIn        *bool                  `json:"isViewCutIn,omitempty"`
	IsDrawGridID       *bool                  `json:"isDrawGridId,omitempty"`
	MapRotatable       *bool                  `json:"mapRotatable,omitempty"`
	IsDrawGridLine     *bool                  `json:"isDrawGridLine,omitempty"`
	IsShowStandImage   *bool                  `json:"isShowStandImage,omitempty"`
	IsShowRotateMarker *bool                  `json:"isShowRotateMarker,omitempty"`
	WindowSettings     *PartialWindowSettings `json:"windowSettings,omitempty"`
}

// PartialWindowSettings is the sparse counterpart of WindowSettings.
type PartialWindowSettings struct {
	Chat           *WindowMode `json:"chat,omitempty"`
	Resource       *WindowMode `json:"resource,omitempty"`
	Initiative     *WindowMode `json:"initiative,omitempty"`
	ChatPalette    *WindowMode `json:"chatPalette,omitempty"`
	CounterRemocon *WindowMode `json:"counterRemocon,omitempty"`
}

// DefaultRoomData is the local settings struct before the remote copy lands.
func DefaultRoomData() RoomData {
	return RoomData{
		Settings: RoomSettings{
			Visitable:          true,
			IsFitGrid:          true,
			IsViewDice:         true,
			IsViewCutIn:        true,
			IsDrawGridID:       true,
			MapRotatable:       true,
			IsDrawGridLine:     true,
			IsShowStandImage:   true,
			IsShowRotateMarker: true,
			WindowSettings: WindowSettings{
				Chat:           WindowFree,
				Resource:       WindowFree,
				Initiative:     WindowFree,
				ChatPalette:    WindowFree,
				CounterRemocon: WindowFree,
			},
		},
	}
}
