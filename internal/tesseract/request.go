package tesseract

import (
	"fmt"
	"image"
	"os"
	"reflect"
)

const (
	// DefaultPSM is fully automatic page segmentation.
	DefaultPSM = 3

	// DefaultLang is English.
	DefaultLang = "eng"

	// PSMSingleChar treats the image as a single character.
	PSMSingleChar = 10
)

// Source is the image to recognize: either a decoded image or a file path.
// The zero value holds neither and is rejected.
type Source struct {
	img  image.Image
	path string
}

// FromImage streams img to tesseract's standard input.
func FromImage(img image.Image) Source {
	return Source{img: img}
}

// FromPath passes path to tesseract as its input argument.
func FromPath(path string) Source {
	return Source{path: path}
}

// Streamed reports whether the source is sent over standard input.
func (s Source) Streamed() bool {
	return s.img != nil
}

// Path returns the file path of a path source.
func (s Source) Path() string {
	return s.path
}

// String describes the source for logging.
func (s Source) String() string {
	switch {
	case s.img != nil && !isNilImage(s.img):
		b := s.img.Bounds()
		return fmt.Sprintf("image(%dx%d)", b.Dx(), b.Dy())
	case s.path != "":
		return s.path
	default:
		return "<none>"
	}
}

func (s Source) validate() error {
	const op = "ValidateSource"

	switch {
	case s.img != nil:
		if isNilImage(s.img) {
			return invalidInput(op, ErrUnsupportedSource, "nil image")
		}
		if s.img.Bounds().Empty() {
			return invalidInput(op, ErrUnsupportedSource, "image has no pixels")
		}
		return nil
	case s.path != "":
		info, err := os.Stat(s.path)
		if err != nil {
			if os.IsNotExist(err) {
				return invalidInput(op, ErrImageNotFound, s.path)
			}
			return invalidInput(op, err, s.path)
		}
		if info.IsDir() {
			return invalidInput(op, ErrUnsupportedSource, "path is a directory: "+s.path)
		}
		return nil
	default:
		return invalidInput(op, ErrUnsupportedSource, "neither an image nor a path was given")
	}
}

// isNilImage reports whether img is an interface holding a nil pointer.
func isNilImage(img image.Image) bool {
	v := reflect.ValueOf(img)
	return v.Kind() == reflect.Ptr && v.IsNil()
}

// Var is a single engine configuration variable.
type Var struct {
	Name  string
	Value string
}

// Vars is an insertion-ordered set of engine configuration variables. They are
// passed to tesseract as "-c name=value" in the order they were first set.
type Vars struct {
	list []Var
}

// Set adds a variable, or updates its value in place if already present.
func (v *Vars) Set(name, value string) {
	for i := range v.list {
		if v.list[i].Name == name {
			v.list[i].Value = value
			return
		}
	}
	v.list = append(v.list, Var{Name: name, Value: value})
}

// Get returns the value of a variable.
func (v Vars) Get(name string) (string, bool) {
	for _, kv := range v.list {
		if kv.Name == name {
			return kv.Value, true
		}
	}
	return "", false
}

// Len returns the number of variables.
func (v Vars) Len() int {
	return len(v.list)
}

// All returns a copy of the variables in order.
func (v Vars) All() []Var {
	out := make([]Var, len(v.list))
	copy(out, v.list)
	return out
}

// Request describes a single recognition call.
type Request struct {
	// Source is the image to recognize.
	Source Source

	// PSM is the page segmentation mode, normally 0-13. It is not validated
	// locally; tesseract rejects bad values. Zero means PSM 0 (orientation
	// and script detection only), so use NewRequest for the default.
	PSM int

	// Lang is the language code, "eng" when empty.
	Lang string

	// TessdataDir, UserWords and UserPatterns are optional paths. Empty means
	// the flag is omitted.
	TessdataDir  string
	UserWords    string
	UserPatterns string

	// ConfigName is an optional named configuration profile (e.g., "digits").
	ConfigName string

	// Vars are engine configuration variables.
	Vars Vars
}

// NewRequest returns a request for src with the default PSM and language.
func NewRequest(src Source) Request {
	return Request{
		Source: src,
		PSM:    DefaultPSM,
		Lang:   DefaultLang,
	}
}

func (r Request) lang() string {
	if r.Lang == "" {
		return DefaultLang
	}
	return r.Lang
}
