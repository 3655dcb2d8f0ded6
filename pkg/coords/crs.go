package coords

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrUnsupportedCRS is returned when a CRS identifier cannot be resolved or
// coordinates cannot be reprojected through it.
var ErrUnsupportedCRS = errors.New("unsupported CRS")

// WGS84 is the geographic CRS bounding boxes are expressed in.
const WGS84 = "EPSG:4326"

const webMercator = "+proj=merc +a=6378137 +b=6378137 +lat_ts=0.0 +lon_0=0.0 +x_0=0.0 +y_0=0 +k=1.0 +units=m +nadgrids=@null +no_defs"

var epsgDefinitions = map[int]string{
	4326: "+proj=longlat +datum=WGS84 +no_defs",
	4258: "+proj=longlat +ellps=GRS80 +no_defs",
	3857: webMercator,
	3395: "+proj=merc +lon_0=0 +k=1 +x_0=0 +y_0=0 +datum=WGS84 +units=m +no_defs",
}

// Definition resolves a CRS identifier into a PROJ.4 or WKT definition.
// Accepted forms are "EPSG:<code>" for the codes in the registry and the
// WGS84 UTM zones (326zz, 327zz), raw "+proj=" strings and WKT.
func Definition(id string) (string, error) {
	s := strings.TrimSpace(id)
	if s == "" {
		return "", fmt.Errorf("%w: empty identifier", ErrUnsupportedCRS)
	}
	if strings.HasPrefix(s, "+proj=") {
		return s, nil
	}
	upper := strings.ToUpper(s)
	for _, p := range []string{"PROJCS[", "GEOGCS[", "PROJCRS[", "GEOGCRS["} {
		if strings.HasPrefix(upper, p) {
			return s, nil
		}
	}
	if !strings.HasPrefix(upper, "EPSG:") {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedCRS, id)
	}
	code, err := strconv.Atoi(strings.TrimSpace(s[len("EPSG:"):]))
	if err != nil {
		return "", fmt.Errorf("%w: %q: bad EPSG code", ErrUnsupportedCRS, id)
	}
	if def, ok := epsgDefinitions[code]; ok {
		return def, nil
	}
	switch {
	case code >= 32601 && code <= 32660:
		return fmt.Sprintf("+proj=utm +zone=%d +datum=WGS84 +units=m +no_defs", code-32600), nil
	case code >= 32701 && code <= 32760:
		return fmt.Sprintf("+proj=utm +zone=%d +south +datum=WGS84 +units=m +no_defs", code-32700), nil
	}
	return "", fmt.Errorf("%w: EPSG:%d is not in the registry", ErrUnsupportedCRS, code)
}

// IsGeographicWGS84 reports whether id resolves to the WGS84 geographic CRS.
func IsGeographicWGS84(id string) bool {
	def, err := Definition(id)
	return err == nil && def == epsgDefinitions[4326]
}
