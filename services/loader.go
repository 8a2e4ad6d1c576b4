package services

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"biodata-hand/config"
	"biodata-hand/models"
	"biodata-hand/providers/europepmc"
	"biodata-hand/storage"
)

// schemeMapping übersetzt die IDScheme-Namen aus den Europe PMC Datalinks
// auf unsere Ressourcen-Kurznamen.
var schemeMapping = map[string]string{
	"Electron Microscopy Data Bank": "emdb",
	"Protein Data Bank":             "pdb",
	"European Nucleotide Archive":   "ena",
	"UniProt":                       "uniprot",
	"ArrayExpress":                  "arrayexpress",
	"BioProject":                    "bioproject",
	"BioSamples":                    "biosamples",
	"Gene Expression Omnibus":       "geo",
	"Genome Assembly":               "insdc.gca",
	"InterPro":                      "interpro",
	"MetaboLights":                  "metabolights",
	"Pfam":                          "pfam",
	"ProteomeXchange":               "proteomexchange",
	"Reactome":                      "reactome",
	"RefSeq":                        "refseq",
	"RefSNP":                        "refsnp",
}

// skippedSchemes sind Datalink-Schemata, die keine Datenbank-Accessions
// bezeichnen und deshalb nicht geladen werden.
var skippedSchemes = map[string]bool{
	"DOI": true,
}

var (
	emailRe    = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	postcodeRe = regexp.MustCompile(`\b\d[\d\-]*\b`)
)

// LoadResult fasst einen Load-Lauf zusammen.
type LoadResult struct {
	Shards        int `json:"shards"`
	SkippedShards int `json:"skipped_shards"`
	Publications  int `json:"publications"`
	Accessions    int `json:"accessions"`
	Mentions      int `json:"mentions"`
	Grants        int `json:"grants"`
}

// ResourceRecord ist eine Zeile eines Ressourcen-Inventars, wie sie von der
// Lade-API angeliefert wird. PubMedIDs verweisen auf die Publikationen, die
// die Ressource beschreiben, Grants auf ihre Förderungen.
type ResourceRecord struct {
	ShortName          string          `json:"short_name" binding:"required"`
	CommonName         string          `json:"common_name"`
	FullName           string          `json:"full_name"`
	URL                string          `json:"url" binding:"required"`
	IsGCBR             bool            `json:"is_gcbr"`
	CommercialTerms    bool            `json:"commercial_terms"`
	PredictionMetadata json.RawMessage `json:"prediction_metadata"`

	PubMedIDs []string            `json:"pubmed_ids"`
	Grants    []ResourceGrantInfo `json:"grants"`
}

// ResourceGrantInfo ist ein Grant-Eintrag im Ressourcen-Inventar.
type ResourceGrantInfo struct {
	ExtGrantID string `json:"ext_grant_id"`
	Agency     string `json:"agency" binding:"required"`
}

// DataLinksClient liefert die Text-Mining Dataset-Links eines Artikels.
type DataLinksClient interface {
	DataLinks(ctx context.Context, pmid string) ([]europepmc.DataLink, error)
}

// LoadService lädt Crawl-Shards in das relationale Schema. Jede Shard-Datei
// läuft in einer eigenen Transaktion, Wiederholungen sind durch Upserts auf
// den natürlichen Schlüsseln idempotent.
type LoadService struct {
	Config   *config.Config
	DB       *gorm.DB
	Fetcher  DataLinksClient
	Shards   storage.ShardStore
	Versions *VersionResolver
	Scorer   MentionClassifier
	Logger   *zap.Logger

	now func() time.Time
}

// NewLoadService erstellt einen neuen LoadService.
func NewLoadService(cfg *config.Config, db *gorm.DB, fetcher DataLinksClient, shards storage.ShardStore, versions *VersionResolver, scorer MentionClassifier, logger *zap.Logger) *LoadService {
	return &LoadService{
		Config:   cfg,
		DB:       db,
		Fetcher:  fetcher,
		Shards:   shards,
		Versions: versions,
		Scorer:   scorer,
		Logger:   logger,
		now:      time.Now,
	}
}

// LoadResources lädt ein Ressourcen-Inventar unter einer neuen Version und
// löst anschließend die is_latest-Marker der betroffenen Namen neu auf.
func (l *LoadService) LoadResources(records []ResourceRecord, versionName string, timestamp time.Time) (int, error) {
	version, err := l.Versions.EnsureVersion(versionName, timestamp, l.Config.VersionUser, nil)
	if err != nil {
		return 0, err
	}

	var names []string
	err = l.DB.Transaction(func(tx *gorm.DB) error {
		for _, rec := range records {
			resource := models.Resource{
				ShortName:          rec.ShortName,
				CommonName:         rec.CommonName,
				FullName:           rec.FullName,
				URL:                rec.URL,
				VersionID:          version.ID,
				IsGCBR:             rec.IsGCBR,
				CommercialTerms:    rec.CommercialTerms,
				PredictionMetadata: []byte(rec.PredictionMetadata),
			}
			err := tx.Clauses(clause.OnConflict{
				Columns: []clause.Column{{Name: "short_name"}, {Name: "url"}, {Name: "version_id"}},
				DoUpdates: clause.AssignmentColumns([]string{
					"common_name", "full_name", "is_gcbr",
					"commercial_terms", "prediction_metadata", "updated_at",
				}),
			}).Create(&resource).Error
			if err != nil {
				return err
			}
			if resource.ID == 0 {
				err = tx.Where("short_name = ? AND url = ? AND version_id = ?",
					rec.ShortName, rec.URL, version.ID).First(&resource).Error
				if err != nil {
					return err
				}
			}

			if err := l.linkResourcePublications(tx, &resource, rec.PubMedIDs); err != nil {
				return err
			}
			if err := l.linkResourceGrants(tx, &resource, rec.Grants); err != nil {
				return err
			}
			names = append(names, rec.ShortName)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	if err := l.Versions.ResolveLatest(l.DB, names); err != nil {
		return 0, err
	}
	l.Logger.Info("Ressourcen-Inventar geladen",
		zap.Int("resources", len(records)), zap.Uint("version_id", version.ID))
	return len(records), nil
}

// linkResourcePublications verknüpft die Ressource mit den Publikationen,
// die sie beschreiben. Noch nicht geladene Publikationen werden übersprungen
// und beim nächsten Inventar-Lauf nachgezogen.
func (l *LoadService) linkResourcePublications(tx *gorm.DB, resource *models.Resource, pubMedIDs []string) error {
	for _, pmid := range pubMedIDs {
		var publication models.Publication
		err := tx.Where("pubmed_id = ?", pmid).First(&publication).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			l.Logger.Debug("Beschreibende Publikation noch nicht geladen",
				zap.String("resource", resource.ShortName), zap.String("pmid", pmid))
			continue
		}
		if err != nil {
			return err
		}
		link := models.ResourcePublication{ResourceID: resource.ID, PublicationID: publication.ID}
		err = tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "resource_id"}, {Name: "publication_id"}},
			DoNothing: true,
		}).Create(&link).Error
		if err != nil {
			return err
		}
	}
	return nil
}

// linkResourceGrants verknüpft die Ressource mit ihren Förder-Grants.
func (l *LoadService) linkResourceGrants(tx *gorm.DB, resource *models.Resource, grants []ResourceGrantInfo) error {
	for _, info := range grants {
		if info.Agency == "" {
			continue
		}
		agency := models.GrantAgency{Name: info.Agency}
		if err := tx.Where(models.GrantAgency{Name: info.Agency}).FirstOrCreate(&agency).Error; err != nil {
			return err
		}
		grant := models.Grant{ExtGrantID: info.ExtGrantID, GrantAgencyID: agency.ID}
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "ext_grant_id"}, {Name: "grant_agency_id"}},
			DoNothing: true,
		}).Create(&grant).Error
		if err != nil {
			return err
		}
		if grant.ID == 0 {
			err = tx.Where("ext_grant_id = ? AND grant_agency_id = ?", info.ExtGrantID, agency.ID).
				First(&grant).Error
			if err != nil {
				return err
			}
		}
		link := models.ResourceGrant{ResourceID: resource.ID, GrantID: grant.ID}
		err = tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "resource_id"}, {Name: "grant_id"}},
			DoNothing: true,
		}).Create(&link).Error
		if err != nil {
			return err
		}
	}
	return nil
}

// Run lädt alle Shard-Dateien unter dem konfigurierten Prefix. Eine Shard,
// deren Transaktion scheitert, wird zurückgerollt und gemeldet, die übrigen
// Shards laufen weiter. Die runID landet als Provenienz in den
// Versions-Metadaten.
func (l *LoadService) Run(ctx context.Context, runID string) (*LoadResult, error) {
	var metadata []byte
	if runID != "" {
		metadata, _ = json.Marshal(map[string]string{"run_id": runID})
	}
	version, err := l.Versions.EnsureVersion(
		l.Config.VersionName, l.now().UTC().Truncate(time.Second),
		l.Config.VersionUser, metadata)
	if err != nil {
		return nil, err
	}

	latest, err := l.Versions.LatestResources()
	if err != nil {
		return nil, err
	}
	resourceIDs := make(map[string]uint, len(latest))
	for _, r := range latest {
		resourceIDs[r.ShortName] = r.ID
	}

	var types []models.AccessionType
	if err := l.DB.Order("priority DESC").Find(&types).Error; err != nil {
		return nil, err
	}
	extractor := NewAccessionExtractor(types, l.Logger)

	var scorer *MentionScorer
	if l.Scorer != nil {
		scorer = NewMentionScorer(latest, l.Scorer, l.Logger)
	}

	keys, err := l.Shards.List(ctx, l.Config.ShardPrefix)
	if err != nil {
		return nil, err
	}

	result := &LoadResult{}
	for _, key := range keys {
		data, err := l.Shards.Get(ctx, key)
		if err != nil {
			l.Logger.Error("Shard konnte nicht gelesen werden", zap.String("shard", key), zap.Error(err))
			result.SkippedShards++
			continue
		}

		var articles []europepmc.Article
		if err := json.Unmarshal(data, &articles); err != nil {
			l.Logger.Error("Shard enthält kein gültiges JSON", zap.String("shard", key), zap.Error(err))
			result.SkippedShards++
			continue
		}

		shardResult := &LoadResult{}
		err = l.DB.Transaction(func(tx *gorm.DB) error {
			return l.loadShard(ctx, tx, version, extractor, scorer, resourceIDs, articles, shardResult)
		})
		if err != nil {
			l.Logger.Error("Shard-Transaktion zurückgerollt", zap.String("shard", key), zap.Error(err))
			result.SkippedShards++
			continue
		}
		result.Shards++
		result.Publications += shardResult.Publications
		result.Accessions += shardResult.Accessions
		result.Mentions += shardResult.Mentions
		result.Grants += shardResult.Grants
		l.Logger.Info("Shard geladen", zap.String("shard", key), zap.Int("articles", len(articles)))
	}
	return result, nil
}

// loadShard verarbeitet die Artikel einer Shard-Datei innerhalb einer
// Transaktion.
func (l *LoadService) loadShard(ctx context.Context, tx *gorm.DB, version *models.Version, extractor *AccessionExtractor, scorer *MentionScorer, resourceIDs map[string]uint, articles []europepmc.Article, result *LoadResult) error {
	for _, article := range articles {
		if article.PMID == "" {
			continue
		}

		publication, err := l.upsertPublication(tx, &article)
		if err != nil {
			return err
		}
		result.Publications++

		grants, err := l.upsertGrants(tx, publication, &article)
		if err != nil {
			return err
		}
		result.Grants += grants

		text := article.Title + " " + article.AbstractText

		count, err := l.loadAccessions(ctx, tx, version, extractor, resourceIDs, publication, &article, text)
		if err != nil {
			return err
		}
		result.Accessions += count

		if scorer != nil {
			count, err = l.loadMentions(ctx, tx, version, scorer, publication, text)
			if err != nil {
				return err
			}
			result.Mentions += count
		}
	}
	return nil
}

// upsertPublication legt die Publikation an oder aktualisiert sie anhand der
// PubMed-ID.
func (l *LoadService) upsertPublication(tx *gorm.DB, article *europepmc.Article) (*models.Publication, error) {
	var affiliations []string
	for _, author := range article.AuthorList.Author {
		for _, aff := range author.AuthorAffiliationDetailsList.AuthorAffiliation {
			affiliations = append(affiliations, aff.Affiliation)
		}
	}
	affiliation := strings.Join(uniqWithOrder(affiliations), "; ")

	keywords := append([]string{}, article.KeywordList.Keyword...)
	for _, heading := range article.MeshHeadingList.MeshHeading {
		keywords = append(keywords, heading.DescriptorName)
		for _, qualifier := range heading.MeshQualifierList.MeshQualifier {
			keywords = append(keywords, qualifier.QualifierName)
		}
	}

	publication := models.Publication{
		PubMedID:             article.PMID,
		Title:                article.Title,
		Authors:              article.AuthorString,
		PublicationDate:      europepmc.ParseDate(article.JournalInfo.PrintPublicationDate),
		Affiliation:          affiliation,
		AffiliationCountries: strings.Join(affiliationCountries(affiliations), "; "),
		Keywords:             strings.Join(uniqWithOrder(keywords), "; "),
		CitationCount:        article.CitedByCount,
		ContactEmail:         emailRe.FindString(affiliation),
	}
	if publication.PublicationDate == nil {
		publication.PublicationDate = europepmc.ParseDate(article.FirstPublicationDate)
	}
	if article.PMCID != "" {
		pmcid := article.PMCID
		publication.PMCID = &pmcid
	}

	err := tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "pubmed_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"pmc_id", "title", "authors", "publication_date", "affiliation",
			"affiliation_countries", "keywords", "citation_count",
			"contact_email", "updated_at",
		}),
	}).Create(&publication).Error
	if err != nil {
		return nil, err
	}
	if publication.ID == 0 {
		if err := tx.Where("pubmed_id = ?", article.PMID).First(&publication).Error; err != nil {
			return nil, err
		}
	}
	return &publication, nil
}

// upsertGrants legt Förder-Agenturen und Grants der Publikation an.
func (l *LoadService) upsertGrants(tx *gorm.DB, publication *models.Publication, article *europepmc.Article) (int, error) {
	count := 0
	for _, info := range article.GrantsList.Grant {
		if info.Agency == "" {
			continue
		}

		agency := models.GrantAgency{Name: info.Agency}
		err := tx.Where(models.GrantAgency{Name: info.Agency}).FirstOrCreate(&agency).Error
		if err != nil {
			return count, err
		}

		grant := models.Grant{ExtGrantID: info.GrantID, GrantAgencyID: agency.ID}
		err = tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "ext_grant_id"}, {Name: "grant_agency_id"}},
			DoNothing: true,
		}).Create(&grant).Error
		if err != nil {
			return count, err
		}
		if grant.ID == 0 {
			err = tx.Where("ext_grant_id = ? AND grant_agency_id = ?", info.GrantID, agency.ID).
				First(&grant).Error
			if err != nil {
				return count, err
			}
		}

		link := models.PublicationGrant{PublicationID: publication.ID, GrantID: grant.ID}
		err = tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "publication_id"}, {Name: "grant_id"}},
			DoNothing: true,
		}).Create(&link).Error
		if err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// loadAccessions sammelt Accessions aus dem Text und, falls der Artikel
// laut Europe PMC Text-Mining-Treffer hat, zusätzlich aus den Datalinks.
func (l *LoadService) loadAccessions(ctx context.Context, tx *gorm.DB, version *models.Version, extractor *AccessionExtractor, resourceIDs map[string]uint, publication *models.Publication, article *europepmc.Article, text string) (int, error) {
	type found struct {
		accession string
		shortName string
		url       string
		metadata  []byte
	}
	var all []found

	for _, hit := range extractor.Extract(text) {
		all = append(all, found{accession: hit.Accession, shortName: hit.ResourceShortName})
	}

	if article.HasTMAccessionNumbers == "Y" && l.Fetcher != nil {
		links, err := l.Fetcher.DataLinks(ctx, article.PMID)
		if err != nil {
			// Datalinks sind eine Anreicherung, kein Grund die Shard zu kippen.
			l.Logger.Warn("Datalinks konnten nicht geladen werden",
				zap.String("pmid", article.PMID), zap.Error(err))
		}
		for _, link := range links {
			scheme := link.Target.Identifier.IDScheme
			if skippedSchemes[scheme] {
				continue
			}
			shortName, ok := schemeMapping[scheme]
			if !ok {
				l.Logger.Debug("Unbekanntes Datalink-Schema",
					zap.String("scheme", scheme), zap.String("pmid", article.PMID))
				continue
			}
			metadata, _ := json.Marshal(map[string]string{
				"obtained_by":      link.ObtainedBy,
				"publication_date": link.PublicationDate,
			})
			all = append(all, found{
				accession: link.Target.Identifier.ID,
				shortName: shortName,
				url:       link.Target.Identifier.IDURL,
				metadata:  metadata,
			})
		}
	}

	count := 0
	seen := make(map[string]bool)
	for _, f := range all {
		if f.accession == "" {
			continue
		}
		key := f.accession + "|" + f.shortName
		if seen[key] {
			continue
		}
		seen[key] = true

		resourceID, ok := resourceIDs[f.shortName]
		if !ok {
			l.Logger.Debug("Keine aktuelle Ressource für Accession",
				zap.String("resource", f.shortName), zap.String("accession", f.accession))
			continue
		}

		accession := models.Accession{
			Accession:  f.accession,
			VersionID:  version.ID,
			ResourceID: resourceID,
			URL:        f.url,
			Metadata:   f.metadata,
		}
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "accession"}, {Name: "version_id"}, {Name: "resource_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"url", "metadata"}),
		}).Create(&accession).Error
		if err != nil {
			return count, err
		}
		if accession.ID == 0 {
			err = tx.Where("accession = ? AND version_id = ? AND resource_id = ?",
				f.accession, version.ID, resourceID).First(&accession).Error
			if err != nil {
				return count, err
			}
		}

		link := models.AccessionPublication{AccessionID: accession.ID, PublicationID: publication.ID}
		err = tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "accession_id"}, {Name: "publication_id"}},
			DoNothing: true,
		}).Create(&link).Error
		if err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// loadMentions bewertet die Ressourcen-Erwähnungen im Text und schreibt pro
// (Publikation, Ressource, Alias) eine Zeile. Ohne Treffer entsteht keine
// Zeile.
func (l *LoadService) loadMentions(ctx context.Context, tx *gorm.DB, version *models.Version, scorer *MentionScorer, publication *models.Publication, text string) (int, error) {
	hits, err := scorer.Scan(ctx, text)
	if err != nil {
		return 0, err
	}

	for _, hit := range hits {
		mention := models.ResourceMention{
			PublicationID:  publication.ID,
			ResourceID:     hit.ResourceID,
			VersionID:      version.ID,
			MatchedAlias:   hit.MatchedAlias,
			MatchCount:     hit.MatchCount,
			MeanConfidence: hit.MeanConfidence,
		}
		err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "publication_id"}, {Name: "resource_id"}, {Name: "matched_alias"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"version_id", "match_count", "mean_confidence", "updated_at",
			}),
		}).Create(&mention).Error
		if err != nil {
			return 0, err
		}
	}
	return len(hits), nil
}

// uniqWithOrder entfernt Duplikate und leere Einträge, behält aber die
// ursprüngliche Reihenfolge bei.
func uniqWithOrder(values []string) []string {
	seen := make(map[string]bool, len(values))
	var out []string
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		lower := strings.ToLower(v)
		if seen[lower] {
			continue
		}
		seen[lower] = true
		out = append(out, v)
	}
	return out
}

// affiliationCountries zieht aus jeder Affiliation das letzte Komma-Segment
// als Länderangabe, befreit von E-Mail-Adressen und Satzzeichen.
func affiliationCountries(affiliations []string) []string {
	var countries []string
	for _, aff := range affiliations {
		parts := strings.Split(aff, ",")
		if len(parts) < 2 {
			continue
		}
		last := strings.TrimSpace(parts[len(parts)-1])
		last = emailRe.ReplaceAllString(last, "")
		last = postcodeRe.ReplaceAllString(last, "")
		last = strings.Trim(last, " .;")
		if last == "" {
			continue
		}
		countries = append(countries, last)
	}
	return uniqWithOrder(countries)
}
