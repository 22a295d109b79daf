package board

import (
	"fmt"
	"slices"
)

// closed set of layer kinds. every per-kind behavior switches
// exhaustively over these.
type LayerType string

const (
	LayerTypeRectangle LayerType = "rectangle"
	LayerTypeEllipse   LayerType = "ellipse"
	LayerTypeLine      LayerType = "line"
	LayerTypeArrow     LayerType = "arrow"
	LayerTypeNote      LayerType = "note"
	LayerTypeText      LayerType = "text"
	LayerTypePath      LayerType = "path"
	LayerTypeImage     LayerType = "image"
	LayerTypeTable     LayerType = "table"
	LayerTypeFrame     LayerType = "frame"
)

var LayerTypes = []LayerType{
	LayerTypeRectangle,
	LayerTypeEllipse,
	LayerTypeLine,
	LayerTypeArrow,
	LayerTypeNote,
	LayerTypeText,
	LayerTypePath,
	LayerTypeImage,
	LayerTypeTable,
	LayerTypeFrame,
}

func ValidLayerType(layerType LayerType) bool {
	return slices.Contains(LayerTypes, layerType)
}

// one visual object on the canvas.
// a single struct carries the union of per-kind fields so that every
// field is addressable by name for the field-level merge. unused
// fields stay at their zero value for kinds that do not carry them.
type Layer struct {
	Id   Id        `json:"id"`
	Type LayerType `json:"type"`

	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Width    float64 `json:"width"`
	Height   float64 `json:"height"`
	Fill     string  `json:"fill"`
	Rotation float64 `json:"rotation,omitempty"`

	// arrow
	StartX        float64 `json:"startX,omitempty"`
	StartY        float64 `json:"startY,omitempty"`
	EndX          float64 `json:"endX,omitempty"`
	EndY          float64 `json:"endY,omitempty"`
	ControlPoint1 Point   `json:"controlPoint1,omitempty"`
	ControlPoint2 Point   `json:"controlPoint2,omitempty"`
	SourceLayerId Id      `json:"sourceLayerId,omitempty"`
	TargetLayerId Id      `json:"targetLayerId,omitempty"`
	SourceSide    Side    `json:"sourceSide,omitempty"`
	TargetSide    Side    `json:"targetSide,omitempty"`
	Curved        bool    `json:"curved,omitempty"`

	// path
	Points []Point `json:"points,omitempty"`

	// note, text
	Text string `json:"text,omitempty"`

	// image
	Url string `json:"url,omitempty"`

	// table
	Rows int `json:"rows,omitempty"`
	Cols int `json:"cols,omitempty"`

	// frame
	Title string `json:"title,omitempty"`
}

// field names addressable by patch operations
const (
	FieldX             = "x"
	FieldY             = "y"
	FieldWidth         = "width"
	FieldHeight        = "height"
	FieldFill          = "fill"
	FieldRotation      = "rotation"
	FieldStartX        = "startX"
	FieldStartY        = "startY"
	FieldEndX          = "endX"
	FieldEndY          = "endY"
	FieldControlPoint1 = "controlPoint1"
	FieldControlPoint2 = "controlPoint2"
	FieldSourceLayerId = "sourceLayerId"
	FieldTargetLayerId = "targetLayerId"
	FieldSourceSide    = "sourceSide"
	FieldTargetSide    = "targetSide"
	FieldCurved        = "curved"
	FieldPoints        = "points"
	FieldText          = "text"
	FieldUrl           = "url"
	FieldRows          = "rows"
	FieldCols          = "cols"
	FieldTitle         = "title"
	// synthetic fields owned by the document store
	FieldPosition  = "position"
	FieldExistence = "existence"
)

func (self *Layer) Bounds() Rect {
	return Rect{
		X:      self.X,
		Y:      self.Y,
		Width:  self.Width,
		Height: self.Height,
	}
}

func (self *Layer) Clone() *Layer {
	clone := *self
	if self.Points != nil {
		clone.Points = slices.Clone(self.Points)
	}
	return &clone
}

// geometry fields that the connection router watches
func GeometryField(field string) bool {
	switch field {
	case FieldX, FieldY, FieldWidth, FieldHeight:
		return true
	default:
		return false
	}
}

func (self *Layer) FieldValue(field string) (any, error) {
	switch field {
	case FieldX:
		return self.X, nil
	case FieldY:
		return self.Y, nil
	case FieldWidth:
		return self.Width, nil
	case FieldHeight:
		return self.Height, nil
	case FieldFill:
		return self.Fill, nil
	case FieldRotation:
		return self.Rotation, nil
	case FieldStartX:
		return self.StartX, nil
	case FieldStartY:
		return self.StartY, nil
	case FieldEndX:
		return self.EndX, nil
	case FieldEndY:
		return self.EndY, nil
	case FieldControlPoint1:
		return self.ControlPoint1, nil
	case FieldControlPoint2:
		return self.ControlPoint2, nil
	case FieldSourceLayerId:
		return self.SourceLayerId, nil
	case FieldTargetLayerId:
		return self.TargetLayerId, nil
	case FieldSourceSide:
		return self.SourceSide, nil
	case FieldTargetSide:
		return self.TargetSide, nil
	case FieldCurved:
		return self.Curved, nil
	case FieldPoints:
		return self.Points, nil
	case FieldText:
		return self.Text, nil
	case FieldUrl:
		return self.Url, nil
	case FieldRows:
		return self.Rows, nil
	case FieldCols:
		return self.Cols, nil
	case FieldTitle:
		return self.Title, nil
	default:
		return nil, fmt.Errorf("unknown layer field %s", field)
	}
}

// applies a field value from an operation.
// values may come from local callers (typed) or from decoded JSON
// (float64, string, []any, map[string]any). degenerate geometry is
// clamped rather than rejected.
func (self *Layer) ApplyField(field string, value any) error {
	switch field {
	case FieldX:
		return applyFloat(&self.X, value)
	case FieldY:
		return applyFloat(&self.Y, value)
	case FieldWidth:
		if err := applyFloat(&self.Width, value); err != nil {
			return err
		}
		self.Width = max(self.Width, 0)
		return nil
	case FieldHeight:
		if err := applyFloat(&self.Height, value); err != nil {
			return err
		}
		self.Height = max(self.Height, 0)
		return nil
	case FieldFill:
		return applyString(&self.Fill, value)
	case FieldRotation:
		return applyFloat(&self.Rotation, value)
	case FieldStartX:
		return applyFloat(&self.StartX, value)
	case FieldStartY:
		return applyFloat(&self.StartY, value)
	case FieldEndX:
		return applyFloat(&self.EndX, value)
	case FieldEndY:
		return applyFloat(&self.EndY, value)
	case FieldControlPoint1:
		return applyPoint(&self.ControlPoint1, value)
	case FieldControlPoint2:
		return applyPoint(&self.ControlPoint2, value)
	case FieldSourceLayerId:
		return applyId(&self.SourceLayerId, value)
	case FieldTargetLayerId:
		return applyId(&self.TargetLayerId, value)
	case FieldSourceSide:
		return applySide(&self.SourceSide, value)
	case FieldTargetSide:
		return applySide(&self.TargetSide, value)
	case FieldCurved:
		return applyBool(&self.Curved, value)
	case FieldPoints:
		return applyPoints(&self.Points, value)
	case FieldText:
		return applyString(&self.Text, value)
	case FieldUrl:
		return applyString(&self.Url, value)
	case FieldRows:
		return applyInt(&self.Rows, value)
	case FieldCols:
		return applyInt(&self.Cols, value)
	case FieldTitle:
		return applyString(&self.Title, value)
	default:
		return fmt.Errorf("unknown layer field %s", field)
	}
}

func applyFloat(dst *float64, value any) error {
	switch v := value.(type) {
	case float64:
		*dst = v
		return nil
	case float32:
		*dst = float64(v)
		return nil
	case int:
		*dst = float64(v)
		return nil
	case int64:
		*dst = float64(v)
		return nil
	default:
		return fmt.Errorf("expected number, got %T", value)
	}
}

func applyInt(dst *int, value any) error {
	switch v := value.(type) {
	case int:
		*dst = v
		return nil
	case float64:
		*dst = int(v)
		return nil
	default:
		return fmt.Errorf("expected int, got %T", value)
	}
}

func applyString(dst *string, value any) error {
	v, ok := value.(string)
	if !ok {
		return fmt.Errorf("expected string, got %T", value)
	}
	*dst = v
	return nil
}

func applyBool(dst *bool, value any) error {
	v, ok := value.(bool)
	if !ok {
		return fmt.Errorf("expected bool, got %T", value)
	}
	*dst = v
	return nil
}

func applySide(dst *Side, value any) error {
	switch v := value.(type) {
	case Side:
		*dst = v
		return nil
	case string:
		*dst = Side(v)
		return nil
	case nil:
		*dst = SideNone
		return nil
	default:
		return fmt.Errorf("expected side, got %T", value)
	}
}

func applyId(dst *Id, value any) error {
	switch v := value.(type) {
	case Id:
		*dst = v
		return nil
	case string:
		id, err := ParseId(v)
		if err != nil {
			return err
		}
		*dst = id
		return nil
	case nil:
		*dst = Id{}
		return nil
	default:
		return fmt.Errorf("expected id, got %T", value)
	}
}

func applyPoint(dst *Point, value any) error {
	switch v := value.(type) {
	case Point:
		*dst = v
		return nil
	case map[string]any:
		point := Point{}
		if err := applyFloat(&point.X, v["x"]); err != nil {
			return err
		}
		if err := applyFloat(&point.Y, v["y"]); err != nil {
			return err
		}
		*dst = point
		return nil
	default:
		return fmt.Errorf("expected point, got %T", value)
	}
}

func applyPoints(dst *[]Point, value any) error {
	switch v := value.(type) {
	case []Point:
		*dst = slices.Clone(v)
		return nil
	case []any:
		points := make([]Point, len(v))
		for i, item := range v {
			if err := applyPoint(&points[i], item); err != nil {
				return err
			}
		}
		*dst = points
		return nil
	case nil:
		*dst = nil
		return nil
	default:
		return fmt.Errorf("expected points, got %T", value)
	}
}
