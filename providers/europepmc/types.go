package europepmc

import "time"

// SearchResponse ist die Top-Level-Struktur der Europe PMC Such-Antwort.
type SearchResponse struct {
	HitCount       int    `json:"hitCount"`
	NextCursorMark string `json:"nextCursorMark"`
	ResultList     struct {
		Result []Article `json:"result"`
	} `json:"resultList"`
}

// Article repräsentiert einen einzelnen Artikel in der API-Antwort.
type Article struct {
	ID                    string `json:"id"`
	Source                string `json:"source"`
	PMID                  string `json:"pmid"`
	PMCID                 string `json:"pmcid"`
	DOI                   string `json:"doi"`
	Title                 string `json:"title"`
	AuthorString          string `json:"authorString"`
	AbstractText          string `json:"abstractText"`
	FirstPublicationDate  string `json:"firstPublicationDate"`
	CitedByCount          int    `json:"citedByCount"`
	HasTMAccessionNumbers string `json:"hasTMAccessionNumbers"`

	JournalInfo struct {
		PrintPublicationDate string `json:"printPublicationDate"`
	} `json:"journalInfo"`

	AuthorList struct {
		Author []Author `json:"author"`
	} `json:"authorList"`

	GrantsList struct {
		Grant []GrantInfo `json:"grant"`
	} `json:"grantsList"`

	KeywordList struct {
		Keyword []string `json:"keyword"`
	} `json:"keywordList"`

	MeshHeadingList struct {
		MeshHeading []MeshHeading `json:"meshHeading"`
	} `json:"meshHeadingList"`
}

// Author mit Affiliations-Details.
type Author struct {
	FullName                     string `json:"fullName"`
	AuthorAffiliationDetailsList struct {
		AuthorAffiliation []struct {
			Affiliation string `json:"affiliation"`
		} `json:"authorAffiliation"`
	} `json:"authorAffiliationDetailsList"`
}

// GrantInfo ist ein Grant-Eintrag aus der grantsList.
type GrantInfo struct {
	GrantID string `json:"grantId"`
	Agency  string `json:"agency"`
}

// MeshHeading ist ein MeSH-Deskriptor mit optionalen Qualifiern.
type MeshHeading struct {
	DescriptorName    string `json:"descriptorName"`
	MeshQualifierList struct {
		MeshQualifier []MeshQualifier `json:"meshQualifier"`
	} `json:"meshQualifierList"`
}

// MeshQualifier ist ein Qualifier eines MeSH-Deskriptors.
type MeshQualifier struct {
	QualifierName string `json:"qualifierName"`
}

// DataLinksResponse ist die Antwort des datalinks-Endpunkts.
type DataLinksResponse struct {
	HitCount     int `json:"hitCount"`
	DataLinkList struct {
		Category []struct {
			Name    string `json:"Name"`
			Section []struct {
				Linklist struct {
					Link []DataLink `json:"Link"`
				} `json:"Linklist"`
			} `json:"Section"`
		} `json:"Category"`
	} `json:"dataLinkList"`
}

// DataLink ist ein einzelner Daten-Link aus dem Text-Mining von Europe PMC.
type DataLink struct {
	ObtainedBy      string `json:"ObtainedBy"`
	PublicationDate string `json:"PublicationDate"`
	Target          struct {
		Type struct {
			Name string `json:"Name"`
		} `json:"Type"`
		Identifier struct {
			ID       string `json:"ID"`
			IDScheme string `json:"IDScheme"`
			IDURL    string `json:"IDURL"`
		} `json:"Identifier"`
	} `json:"Target"`
}

// Hilfsfunktion zum sicheren Parsen von Daten.
func ParseDate(dateStr string) *time.Time {
	layouts := []string{"2006-01-02", "2006-01", "2006"}
	for _, layout := range layouts {
		t, err := time.Parse(layout, dateStr)
		if err == nil {
			return &t
		}
	}
	return nil
}
