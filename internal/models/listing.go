package models

import "strings"

// Unavailable is stored in any listing field the catalog did not provide.
// Records always carry every field so exports and diffs see a uniform shape.
const Unavailable = "N/A"

// Listing is one catalog entry extracted from a result page.
// URL is the canonical detail link and identifies the listing across runs.
type Listing struct {
	Index         int               `json:"index,omitempty"`
	Name          string            `json:"name"`
	Location      string            `json:"location"`
	Access        string            `json:"access"`
	Age           string            `json:"age"`
	Rent          string            `json:"rent"`
	ManagementFee string            `json:"management_fee"`
	Deposit       string            `json:"deposit"`
	KeyMoney      string            `json:"key_money"`
	FloorPlan     string            `json:"floor_plan"`
	FloorArea     string            `json:"floor_area"`
	URL           string            `json:"url"`
	ImageURL      string            `json:"image_url"`
	Thumbnails    []string          `json:"thumbnails"`
	SearchParams  map[string]string `json:"search_params,omitempty"`
	IsNew         bool              `json:"is_new"`
}

// Columns is the export order used by table-shaped registries.
var Columns = []string{
	"物件名", "所在地", "アクセス", "築年数", "賃料", "管理費",
	"敷金", "礼金", "間取り", "専有面積", "物件URL", "メイン画像", "画像一覧",
}

// Row flattens the listing in Columns order.
func (l Listing) Row() []string {
	thumbs := Unavailable
	if len(l.Thumbnails) > 0 {
		thumbs = strings.Join(l.Thumbnails, ",")
	}
	return []string{
		l.Name, l.Location, l.Access, l.Age, l.Rent, l.ManagementFee,
		l.Deposit, l.KeyMoney, l.FloorPlan, l.FloorArea, l.URL, l.ImageURL, thumbs,
	}
}

// ListingFromRow is the inverse of Row. Missing trailing cells become Unavailable.
func ListingFromRow(row []string) Listing {
	cell := func(i int) string {
		if i < len(row) && row[i] != "" {
			return row[i]
		}
		return Unavailable
	}
	l := Listing{
		Name:          cell(0),
		Location:      cell(1),
		Access:        cell(2),
		Age:           cell(3),
		Rent:          cell(4),
		ManagementFee: cell(5),
		Deposit:       cell(6),
		KeyMoney:      cell(7),
		FloorPlan:     cell(8),
		FloorArea:     cell(9),
		URL:           cell(10),
		ImageURL:      cell(11),
		Thumbnails:    []string{},
	}
	if thumbs := cell(12); thumbs != Unavailable {
		l.Thumbnails = strings.Split(thumbs, ",")
	}
	return l
}
