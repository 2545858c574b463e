package helmet

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/hyperengineering/linkedevents/internal/importer"
	"github.com/hyperengineering/linkedevents/internal/types"
)

// languageIDs are the content language ids of the feed.
var languageIDs = map[string]int{
	types.LangFinnish: 1,
	types.LangSwedish: 3,
	types.LangEnglish: 2,
}

// categoryKeywords maps feed categories to YSO concepts.
var categoryKeywords = map[string][]string{
	"Yrittäjät":                         {"p1178"},
	"Lapset":                            {"p12262"},
	"Kirjastot":                         {"p2787"},
	"Opiskelijat":                       {"p16486"},
	"Konsertit ja klubit":               {"p11185", "p20421"},
	"Kurssit":                           {"p9270"},
	"venäjä":                            {"p7643"},
	"Seniorit":                          {"p2434"},
	"Näyttelyt":                         {"p5121"},
	"Kirjallisuus":                      {"p8113"},
	"Kielikahvilat ja keskusteluryhmät": {"p18105"},
	"Maahanmuuttajat":                   {"p6165"},
	"Opastukset ja kurssit":             {"p2149", "p9270"},
	"Nuoret":                            {"p11617"},
	"Pelitapahtumat":                    {"p6062"},
	"Satutunnit":                        {"p14710"},
	"Koululaiset":                       {"p16485"},
	"Lasten ja nuorten tapahtumat":      {"p12262", "p11617"},
	"Lapset ja perheet":                 {"p12262", "p4363"},
}

// libraries maps the library node ids of the feed to tprek units. Each
// library has one node per feed tree.
var libraries = map[int64]string{}

func init() {
	for tprekID, nodes := range map[string][2]int64{
		"8234":  {10784, 11271}, // Arabianranta
		"15321": {10659, 11274}, // Entresse
		"8150":  {10786, 11276}, // Etelä-Haaga
		"19580": {10787, 11278}, // Hakunila
		"8325":  {10789, 11282}, // Herttoniemi
		"18584": {10790, 11284}, // Hiekkaharju
		"8184":  {10791, 11286}, // Itäkeskus
		"8324":  {10792, 11288}, // Jakomäki
		"15365": {10793, 11290}, // Kalajärvi
		"8215":  {10794, 11291}, // Kallio
		"8141":  {10795, 11294}, // Kannelmäki
		"15422": {10796, 11296}, // Karhusuo
		"15317": {10798, 11298}, // Kauklahti
		"14432": {10799, 11301}, // Kauniainen
		"8286":  {10800, 11303}, // Kirjasto 10
		"15395": {10801, 11305}, // Omena
		"15334": {10803, 11309}, // Kivenlahti
		"8145":  {10804, 11311}, // Kaupunkiverstas
		"19572": {10805, 11313}, // Koivukylä
		"8178":  {10806, 11315}, // Kontula
		"8285":  {10811, 11317}, // Kotipalvelu
		"8302":  {10812, 11319}, // Käpylä
		"15344": {10813, 11321}, // Laajalahti
		"8143":  {10814, 11323}, // Laajasalo
		"15309": {10815, 11325}, // Laaksolahti
		"8344":  {10817, 11329}, // Lauttasaari
		"18262": {10818, 11331}, // Lumo
		"18620": {10819, 11333}, // Länsimäki
		"8192":  {10820, 11335}, // Malmi
		"8220":  {10821, 11337}, // Malminkartano
		"19217": {10822, 11339}, // Martinlaakso
		"8350":  {10823, 11341}, // Maunula
		"8223":  {10824, 11345}, // Monikielinen
		"8158":  {10825, 11347}, // Munkkiniemi
		"8348":  {10826, 11349}, // Myllypuro
		"18241": {10827, 11351}, // Myyrmäki
		"15396": {10828, 11353}, // Nöykkiö
		"8177":  {10829, 11355}, // Oulunkylä
		"8362":  {10830, 11357}, // Paloheinä
		"8269":  {10831, 11359}, // Pasila
		"8294":  {10832, 11361}, // Pikku Huopalahti
		"8292":  {10833, 11363}, // Pitäjänmäki
		"8205":  {10834, 11365}, // Pohjois-Haaga
		"18658": {10835, 11367}, // Pointti
		"8289":  {10837, 11369}, // Puistola
		"8232":  {10838, 11371}, // Pukinmäki
		"18855": {10839, 11373}, // Pähkinärinne
		"8154":  {10840, 11375}, // Rikhardinkatu
		"8369":  {10841, 11377}, // Roihuvuori
		"8146":  {10842, 11379}, // Ruoholahti
		"10037": {10843, 11381}, // Sakarinmäki
		"29805": {11712, 11714}, // Saunalahti
		"15417": {10844, 11383}, // Sello
		"15376": {10845, 11385}, // Soukka
		"8244":  {10846, 11387}, // Suomenlinna
		"8277":  {10847, 11389}, // Suutarila
		"8359":  {10848, 11391}, // Tapanila
		"15311": {10849, 11395}, // Tapiola
		"8288":  {10850, 11397}, // Tapulikaupunki
		"18703": {10851, 11202}, // Tikkurila
		"8149":  {10852, 11393}, // Töölö
		"8199":  {10853, 11399}, // Vallila
		"15429": {10854, 11401}, // Viherlaakso
		"8308":  {10855, 11403}, // Viikki
		"8310":  {10856, 11405}, // Vuosaari
	} {
		for _, node := range nodes {
			libraries[node] = tprekID
		}
	}
	// Haukilahti shares the Hakunila unit in the register.
	libraries[10788], libraries[11280] = "19580", "19580"
}

// locationNode is the classification whose node id names the library.
const locationNode = "Tapahtumat"

type contents struct {
	Value []document `json:"value"`
}

type document struct {
	ContentID          int64            `json:"ContentId"`
	PublicDate         string           `json:"PublicDate"`
	EventStartDate     string           `json:"EventStartDate"`
	EventEndDate       string           `json:"EventEndDate"`
	ExpiryDate         string           `json:"ExpiryDate"`
	ExtendedProperties []property       `json:"ExtendedProperties"`
	Classifications    []classification `json:"Classifications"`
}

type property struct {
	Name   string   `json:"Name"`
	Text   string   `json:"Text"`
	Number *float64 `json:"Number"`
	Date   string   `json:"Date"`
}

// value is the first non-empty of the typed values.
func (p property) value() string {
	switch {
	case strings.TrimSpace(p.Text) != "":
		return p.Text
	case p.Number != nil && *p.Number != 0:
		return strconv.FormatFloat(*p.Number, 'f', -1, 64)
	default:
		return p.Date
	}
}

type classification struct {
	NodeName string `json:"NodeName"`
	NodeID   int64  `json:"NodeId"`
}

// feedTime layouts; times without an offset are local.
var feedTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func parseTime(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range feedTimeLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", s)
}

// eventDraft accumulates one event over the language passes.
type eventDraft struct {
	importer.EventDraft
	categories []string
	libraryIDs []int64
}

// merge folds one language's document into d. Language-independent
// values keep the first value seen.
func (d *eventDraft) merge(lang, baseURL string, doc document, loc *time.Location) error {
	for _, p := range doc.ExtendedProperties {
		v := p.value()
		switch p.Name {
		case "Name":
			d.Name.Set(lang, importer.CleanText(v))
		case "Description":
			d.Description.Set(lang, importer.StripTags(v))
		case "Images":
			if src := importer.FirstImageSrc(v); src != "" && d.Image == "" {
				d.Image = absolute(baseURL, src)
			}
		default:
			if v == "" {
				continue
			}
			if d.CustomData == nil {
				d.CustomData = make(map[string]string)
			}
			if _, ok := d.CustomData[p.Name]; !ok {
				d.CustomData[p.Name] = v
			}
		}
	}
	d.InfoURL.Set(lang, fmt.Sprintf("%s/api/opennc/v1/Contents(%d)", baseURL, doc.ContentID))

	if d.StartTime.IsZero() {
		start, err := parseTime(doc.EventStartDate, loc)
		if err != nil {
			return fmt.Errorf("start: %w", err)
		}
		end, err := parseTime(doc.EventEndDate, loc)
		if err != nil {
			return fmt.Errorf("end: %w", err)
		}
		d.StartTime, d.EndTime = start, end
	}
	if d.DatePublished == nil {
		if pub, err := parseTime(doc.PublicDate, loc); err == nil && !pub.IsZero() {
			d.DatePublished = &pub
		}
	}
	if expiry, err := parseTime(doc.ExpiryDate, loc); err == nil && !expiry.IsZero() {
		if d.CustomData == nil {
			d.CustomData = make(map[string]string)
		}
		d.CustomData["ExpiryDate"] = expiry.UTC().Format("2006-01-02T15:04:05Z")
	}

	for _, c := range doc.Classifications {
		if c.NodeName == locationNode {
			d.libraryIDs = appendUnique(d.libraryIDs, c.NodeID)
			continue
		}
		d.categories = appendUnique(d.categories, c.NodeName)
	}
	return nil
}

// keywordIDs maps the categories of d to YSO keyword ids.
func (d *eventDraft) keywordIDs() []string {
	var ids []string
	for _, c := range d.categories {
		for _, yso := range categoryKeywords[c] {
			ids = appendUnique(ids, types.ObjectID("yso", yso))
		}
	}
	return ids
}

func absolute(baseURL, ref string) string {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref
	}
	return baseURL + "/" + strings.TrimPrefix(ref, "/")
}

func appendUnique[T comparable](s []T, v T) []T {
	if slices.Contains(s, v) {
		return s
	}
	return append(s, v)
}
