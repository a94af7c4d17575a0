package models

// Domain record schemas. These are the data shapes stored under Document.Data
// for each of the room's collections; the synchronization layer never
// interprets them beyond the ids used by composite operations.

type UserType string

const (
	UserGM      UserType = "GM"
	UserPlayer  UserType = "PL"
	UserVisitor UserType = "VISITOR"
)

type User struct {
	Name  string   `json:"name"`
	Type  UserType `json:"type"`
	Login int      `json:"login"`
}

// SocketUser links a live connection id to the user behind it.
type SocketUser struct {
	UserID   string `json:"userId"`
	SocketID string `json:"socketId"`
}

type ActorType string

const (
	ActorUser      ActorType = "user"
	ActorCharacter ActorType = "character"
)

type Actor struct {
	Name               string    `json:"name"`
	Type               ActorType `json:"type"`
	ChatFontColorType  string    `json:"chatFontColorType"`
	ChatFontColor      string    `json:"chatFontColor"`
	StandImagePosition int       `json:"standImagePosition"`
	StatusID           string    `json:"statusId"`
}

type ActorStatus struct {
	Name             string  `json:"name"`
	IsSystem         bool    `json:"isSystem"`
	StandImageInfoID *string `json:"standImageInfoId"`
	ChatPaletteID    *string `json:"chatPaletteInfoId"`
}

type ActorGroup struct {
	Name     string     `json:"name"`
	IsSystem bool       `json:"isSystem"`
	List     []GroupRef `json:"list"`
}

type GroupRef struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

type Scene struct {
	Name       string `json:"name"`
	Columns    int    `json:"columns"`
	Rows       int    `json:"rows"`
	GridSize   int    `json:"gridSize"`
	GridColor  string `json:"gridColor"`
	FontColor  string `json:"fontColor"`
	Background string `json:"background"`
}

type SceneLayer struct {
	Type         string `json:"type"`
	Name         string `json:"name,omitempty"`
	DefaultOrder int    `json:"defaultOrder"`
	IsSystem     bool   `json:"isSystem"`
}

// SceneAndLayer is the link document of the sceneId x layerId fan-out.
type SceneAndLayer struct {
	SceneID string `json:"sceneId"`
	LayerID string `json:"layerId"`
	IsUse   bool   `json:"isUse"`
}

type SceneObjectType string

const (
	ObjectCharacter  SceneObjectType = "character"
	ObjectMapMask    SceneObjectType = "map-mask"
	ObjectChit       SceneObjectType = "chit"
	ObjectFloorTile  SceneObjectType = "floor-tile"
	ObjectDiceSymbol SceneObjectType = "dice-symbol"
)

type SceneObject struct {
	Type    SceneObjectType `json:"type"`
	Name    string          `json:"name"`
	LayerID string          `json:"layerId"`
	X       float64         `json:"x"`
	Y       float64         `json:"y"`
	Columns int             `json:"columns"`
	Rows    int             `json:"rows"`
	IsLock  bool            `json:"isLock"`
}

// EnteringType is how a scene object appears when its scene becomes active.
type EnteringType string

const EnteringNormal EnteringType = "normal"

// SceneAndObject is the link document of the sceneId x objectId fan-out.
type SceneAndObject struct {
	SceneID           string       `json:"sceneId"`
	ObjectID          string       `json:"objectId"`
	IsOriginalAddress bool         `json:"isOriginalAddress"`
	OriginalAddress   *string      `json:"originalAddress"`
	Entering          EnteringType `json:"entering"`
}

type ChatMessage struct {
	ActorID        string          `json:"actorId"`
	TabID          string          `json:"tabId"`
	Text           string          `json:"text"`
	System         string          `json:"system,omitempty"`
	DiceRollResult *DiceRollResult `json:"diceRollResult,omitempty"`
}

type ChatTab struct {
	Name     string `json:"name"`
	IsSystem bool   `json:"isSystem"`
}

type GroupChatTab struct {
	Name         string `json:"name"`
	IsSystem     bool   `json:"isSystem"`
	ActorGroupID string `json:"actorGroupId"`
	IsSecret     bool   `json:"isSecret"`
}

type Media struct {
	Name string `json:"name"`
	Tag  string `json:"tag"`
	URL  string `json:"url"`
	Type string `json:"type"`
}

type CutIn struct {
	Title string `json:"title"`
	Tag   string `json:"tag"`
	URL   string `json:"url"`
	Start int    `json:"start"`
	End   int    `json:"end"`
}

type Property struct {
	ParentID *string `json:"parentId"`
	Label    string  `json:"label"`
	Value    string  `json:"value"`
}

type PropertyFace struct {
	Owner    string `json:"owner"`
	Label    string `json:"label"`
	Property string `json:"property"`
}

type PropertySelection struct {
	Selection string `json:"selection"`
	Label     string `json:"label"`
}

type TagNote struct {
	FontColor       string `json:"fontColor"`
	BackgroundColor string `json:"backgroundColor"`
	Text            string `json:"text"`
}

type CardMeta struct {
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	FrontImage   string `json:"frontImage"`
	BackImage    string `json:"backImage"`
	FrontBGColor string `json:"frontBackgroundColor"`
	Name         string `json:"name"`
	NameHeight   int    `json:"nameHeight"`
	Text         string `json:"text"`
}

type CardObject struct {
	CardMetaID    string `json:"cardMetaId"`
	CardDeckBigID string `json:"cardDeckBigId"`
	IsTurnOff     bool   `json:"isTurnOff"`
	Point         Point  `json:"point"`
}

type CardDeckBig struct {
	Name string `json:"name"`
}

type CardDeckSmall struct {
	Name       string `json:"name"`
	Layout     string `json:"layout"`
	Width      int    `json:"width"`
	Rows       int    `json:"rows"`
	Columns    int    `json:"columns"`
	IsUseHover bool   `json:"isUseHoverView"`
}

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}
