package tprek

import (
	"log/slog"
	"strconv"
	"strings"

	"github.com/hyperengineering/linkedevents/internal/importer"
	"github.com/hyperengineering/linkedevents/internal/types"
)

// maxInfoURLLength drops longer www addresses.
const maxInfoURLLength = 1000

// unit is one entry of the service map unit list.
type unit struct {
	ID int `json:"id"`

	NameFi string `json:"name_fi"`
	NameSv string `json:"name_sv"`
	NameEn string `json:"name_en"`

	DescFi string `json:"desc_fi"`
	DescSv string `json:"desc_sv"`
	DescEn string `json:"desc_en"`

	StreetAddressFi string `json:"street_address_fi"`
	StreetAddressSv string `json:"street_address_sv"`
	StreetAddressEn string `json:"street_address_en"`

	AddressCityFi string `json:"address_city_fi"`
	AddressCitySv string `json:"address_city_sv"`
	AddressCityEn string `json:"address_city_en"`

	WWWFi string `json:"www_fi"`
	WWWSv string `json:"www_sv"`
	WWWEn string `json:"www_en"`

	Phone      string  `json:"phone"`
	AddressZip string  `json:"address_zip"`
	Email      string  `json:"email"`
	Latitude   float64 `json:"latitude"`
	Longitude  float64 `json:"longitude"`
	PictureURL string  `json:"picture_url"`
}

func translated(fi, sv, en string) types.Translated {
	var t types.Translated
	t.Set(types.LangFinnish, importer.CleanText(fi))
	t.Set(types.LangSwedish, importer.CleanText(sv))
	t.Set(types.LangEnglish, importer.CleanText(en))
	return t
}

func mapUnit(u unit, publisherID string) importer.PlaceDraft {
	originID := strconv.Itoa(u.ID)

	infoURL := translated(u.WWWFi, u.WWWSv, u.WWWEn)
	for lang, v := range infoURL {
		if len(v) > maxInfoURLLength {
			slog.Warn("unit www address too long",
				"component", "importer",
				"importer", Name,
				"unit", originID,
				"language", lang,
			)
			delete(infoURL, lang)
		}
	}

	return importer.PlaceDraft{
		DataSourceID:    Name,
		OriginID:        originID,
		PublisherID:     publisherID,
		Name:            translated(u.NameFi, u.NameSv, u.NameEn),
		Description:     translated(u.DescFi, u.DescSv, u.DescEn),
		StreetAddress:   translated(u.StreetAddressFi, u.StreetAddressSv, u.StreetAddressEn),
		AddressLocality: translated(u.AddressCityFi, u.AddressCitySv, u.AddressCityEn),
		InfoURL:         infoURL,
		Telephone:       importer.CleanText(u.Phone),
		Email:           strings.TrimSpace(u.Email),
		PostalCode:      strings.TrimSpace(u.AddressZip),
		Image:           strings.TrimSpace(u.PictureURL),
		Latitude:        u.Latitude,
		Longitude:       u.Longitude,
	}
}
