package icd

import (
	"os"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jreader"

	"github.com/cobalt-gpu/cobalt/vk"
)

// Manifest is the parsed form of a Vulkan ICD manifest file. Manifests are
// JSON documents with a nested "ICD" object carrying the library path and the
// advertised API version; unknown fields are ignored.
type Manifest struct {
	// Path is the manifest file itself.
	Path string
	// FileFormatVersion is carried through for diagnostics only.
	FileFormatVersion string
	// LibraryPath is the driver library, either absolute or a bare name for
	// the dynamic linker.
	LibraryPath string
	// APIVersion is the advertised version in packed form. Defaults to 1.0.0
	// when the manifest omits it.
	APIVersion uint32
}

// ParseManifest reads and parses a single manifest file. Both string
// ("1.3.280") and packed numeric api_version representations are accepted.
func ParseManifest(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, errors.Wrapf(ErrManifestInvalid, "%s: %v", path, err)
	}
	manifest, err := parseManifestBytes(data)
	if err != nil {
		return Manifest{}, errors.Wrapf(err, "%s", path)
	}
	manifest.Path = path
	return manifest, nil
}

func parseManifestBytes(data []byte) (Manifest, error) {
	manifest := Manifest{APIVersion: vk.APIVersion10}

	r := jreader.NewReader(data)
	sawICD := false

	for obj := r.Object(); obj.Next(); {
		switch string(obj.Name()) {
		case "file_format_version":
			manifest.FileFormatVersion = r.String()
		case "ICD":
			sawICD = true
			for inner := r.Object(); inner.Next(); {
				switch string(inner.Name()) {
				case "library_path":
					manifest.LibraryPath = r.String()
				case "api_version":
					version, err := readAPIVersion(&r)
					if err != nil {
						return Manifest{}, err
					}
					manifest.APIVersion = version
				default:
					r.SkipValue()
				}
			}
		default:
			r.SkipValue()
		}
	}
	if err := r.Error(); err != nil {
		return Manifest{}, errors.Wrapf(ErrManifestInvalid, "%v", err)
	}
	if !sawICD {
		return Manifest{}, errors.Wrap(ErrManifestInvalid, "no ICD object")
	}
	if manifest.LibraryPath == "" {
		return Manifest{}, errors.Wrap(ErrManifestInvalid, "ICD.library_path missing or empty")
	}
	return manifest, nil
}

func readAPIVersion(r *jreader.Reader) (uint32, error) {
	value := r.Any()
	switch value.Kind {
	case jreader.StringValue:
		version, err := vk.ParseAPIVersion(value.String)
		if err != nil {
			return 0, errors.Wrapf(ErrManifestInvalid, "%v", err)
		}
		return version, nil
	case jreader.NumberValue:
		// Some manifests carry the packed uint32 directly.
		return uint32(value.Number), nil
	default:
		return 0, errors.Wrap(ErrManifestInvalid, "api_version is neither string nor number")
	}
}
