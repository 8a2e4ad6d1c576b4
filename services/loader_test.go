package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"biodata-hand/config"
	"biodata-hand/models"
	"biodata-hand/providers/europepmc"
	"biodata-hand/storage"
)

func loaderConfig() *config.Config {
	return &config.Config{
		VersionName: "epmc accession loading",
		VersionUser: "test",
		ShardPrefix: "epmc",
	}
}

func seedInventory(t *testing.T, loader *LoadService) {
	t.Helper()
	records := []ResourceRecord{
		{ShortName: "emdb", CommonName: "EMDB", FullName: "Electron Microscopy Data Bank", URL: "https://www.ebi.ac.uk/emdb"},
		{ShortName: "pdb", CommonName: "wwPDB", FullName: "Protein Data Bank", URL: "https://rcsb.org"},
	}
	_, err := loader.LoadResources(records, "inventory", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
}

func seedEMDBType(t *testing.T, db *gorm.DB) {
	t.Helper()
	require.NoError(t, db.Create(&models.AccessionType{
		Name: "emdb", ResourceShortName: "emdb", Pattern: `\bEMD-\d{4,5}\b`, Priority: 50,
	}).Error)
}

func putShard(t *testing.T, shards storage.ShardStore, pageNum int, articles []europepmc.Article) {
	t.Helper()
	data, err := json.Marshal(articles)
	require.NoError(t, err)
	require.NoError(t, shards.Put(context.Background(), storage.ShardKey("epmc", pageNum), data))
}

func testArticle() europepmc.Article {
	a := europepmc.Article{
		PMID:                  "100",
		Title:                 "Cryo-EM structure deposited as EMD-1234",
		AbstractText:          "Coordinates are available in the Protein Data Bank.",
		AuthorString:          "Doe J, Roe R.",
		CitedByCount:          7,
		HasTMAccessionNumbers: "N",
		FirstPublicationDate:  "2023-05-10",
	}
	a.KeywordList.Keyword = []string{"cryo-em", "Cryo-EM"}
	heading := europepmc.MeshHeading{DescriptorName: "Cryoelectron Microscopy"}
	heading.MeshQualifierList.MeshQualifier = []europepmc.MeshQualifier{{QualifierName: "methods"}}
	a.MeshHeadingList.MeshHeading = []europepmc.MeshHeading{heading}
	a.GrantsList.Grant = []europepmc.GrantInfo{{GrantID: "R01-123", Agency: "NIH"}}
	return a
}

func countRows(t *testing.T, db *gorm.DB, model interface{}) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(model).Count(&n).Error)
	return n
}

func TestAffiliationCountries(t *testing.T) {
	countries := affiliationCountries([]string{
		"MRC Laboratory of Molecular Biology, Cambridge, UK. jdoe@mrc-lmb.cam.ac.uk",
		"Institut Pasteur, 75015 France.",
		"EMBL, Heidelberg, Germany",
		"Ohne Komma",
	})
	assert.Equal(t, []string{"UK", "France", "Germany"}, countries)
}

func TestLoadResourcesIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	versions := NewVersionResolver(db, zap.NewNop())
	loader := NewLoadService(loaderConfig(), db, nil, storage.NewMemoryShardStore(), versions, nil, zap.NewNop())

	seedInventory(t, loader)
	seedInventory(t, loader)

	assert.EqualValues(t, 2, countRows(t, db, &models.Resource{}))
	var latest []models.Resource
	require.NoError(t, db.Where("is_latest = ?", true).Find(&latest).Error)
	assert.Len(t, latest, 2)
}

func TestLoadResourcesLinksPublicationsAndGrants(t *testing.T) {
	db := newTestDB(t)
	versions := NewVersionResolver(db, zap.NewNop())
	shards := storage.NewMemoryShardStore()
	loader := NewLoadService(loaderConfig(), db, nil, shards, versions, nil, zap.NewNop())

	seedInventory(t, loader)
	seedEMDBType(t, db)
	putShard(t, shards, 0, []europepmc.Article{testArticle()})
	_, err := loader.Run(context.Background(), "")
	require.NoError(t, err)

	records := []ResourceRecord{{
		ShortName: "emdb",
		URL:       "https://www.ebi.ac.uk/emdb",
		PubMedIDs: []string{"100", "999"}, // 999 ist noch nicht geladen
		Grants:    []ResourceGrantInfo{{ExtGrantID: "BB/X123", Agency: "BBSRC"}},
	}}
	_, err = loader.LoadResources(records, "inventory", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	assert.EqualValues(t, 1, countRows(t, db, &models.ResourcePublication{}))
	assert.EqualValues(t, 1, countRows(t, db, &models.ResourceGrant{}))

	// Erneutes Laden erzeugt keine doppelten Links.
	_, err = loader.LoadResources(records, "inventory", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.EqualValues(t, 1, countRows(t, db, &models.ResourcePublication{}))
	assert.EqualValues(t, 1, countRows(t, db, &models.ResourceGrant{}))
}

func TestLoadResourcesPropagatesLinkErrors(t *testing.T) {
	db := newTestDB(t)
	versions := NewVersionResolver(db, zap.NewNop())
	loader := NewLoadService(loaderConfig(), db, nil, storage.NewMemoryShardStore(), versions, nil, zap.NewNop())

	// Echte DB-Fehler beim Verknüpfen dürfen nicht als "noch nicht geladen"
	// durchgewunken werden.
	require.NoError(t, db.Migrator().DropTable(&models.Publication{}))

	records := []ResourceRecord{{
		ShortName: "emdb",
		URL:       "https://www.ebi.ac.uk/emdb",
		PubMedIDs: []string{"100"},
	}}
	_, err := loader.LoadResources(records, "inventory", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	require.Error(t, err)
}

func TestRunLoadsShardIntoSchema(t *testing.T) {
	db := newTestDB(t)
	versions := NewVersionResolver(db, zap.NewNop())
	shards := storage.NewMemoryShardStore()
	classifier := &stubClassifier{scores: []float64{0.8}}
	loader := NewLoadService(loaderConfig(), db, nil, shards, versions, classifier, zap.NewNop())

	seedInventory(t, loader)
	seedEMDBType(t, db)
	putShard(t, shards, 0, []europepmc.Article{testArticle()})

	result, err := loader.Run(context.Background(), "run-7")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Shards)
	assert.Equal(t, 0, result.SkippedShards)
	assert.Equal(t, 1, result.Publications)
	assert.Equal(t, 1, result.Accessions)
	assert.Equal(t, 1, result.Mentions)
	assert.Equal(t, 1, result.Grants)

	var version models.Version
	require.NoError(t, db.Where("name = ?", "epmc accession loading").First(&version).Error)
	assert.Contains(t, string(version.Metadata), "run-7")

	var publication models.Publication
	require.NoError(t, db.Where("pubmed_id = ?", "100").First(&publication).Error)
	assert.Equal(t, 7, publication.CitationCount)
	// Duplikate entfernt, MeSH-Deskriptor und Qualifier angehängt
	assert.Equal(t, "cryo-em; Cryoelectron Microscopy; methods", publication.Keywords)
	require.NotNil(t, publication.PublicationDate)

	var accession models.Accession
	require.NoError(t, db.Where("accession = ?", "EMD-1234").First(&accession).Error)
	assert.EqualValues(t, 1, countRows(t, db, &models.AccessionPublication{}))

	var mention models.ResourceMention
	require.NoError(t, db.Where("matched_alias = ?", "Protein Data Bank").First(&mention).Error)
	assert.Equal(t, 1, mention.MatchCount)
	assert.InDelta(t, 0.8, mention.MeanConfidence, 1e-9)

	var grant models.Grant
	require.NoError(t, db.Where("ext_grant_id = ?", "R01-123").First(&grant).Error)
	assert.EqualValues(t, 1, countRows(t, db, &models.PublicationGrant{}))
}

func TestRunIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	versions := NewVersionResolver(db, zap.NewNop())
	shards := storage.NewMemoryShardStore()
	classifier := &stubClassifier{scores: []float64{0.8}}
	loader := NewLoadService(loaderConfig(), db, nil, shards, versions, classifier, zap.NewNop())
	// Fester Zeitpunkt, damit beide Läufe dieselbe Version bekommen.
	loader.now = func() time.Time { return time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC) }

	seedInventory(t, loader)
	seedEMDBType(t, db)
	putShard(t, shards, 0, []europepmc.Article{testArticle()})

	_, err := loader.Run(context.Background(), "")
	require.NoError(t, err)
	_, err = loader.Run(context.Background(), "")
	require.NoError(t, err)

	assert.EqualValues(t, 1, countRows(t, db, &models.Publication{}))
	assert.EqualValues(t, 1, countRows(t, db, &models.Accession{}))
	assert.EqualValues(t, 1, countRows(t, db, &models.AccessionPublication{}))
	assert.EqualValues(t, 1, countRows(t, db, &models.ResourceMention{}))
	assert.EqualValues(t, 1, countRows(t, db, &models.Grant{}))
	assert.EqualValues(t, 1, countRows(t, db, &models.PublicationGrant{}))
}

func TestRunSkipsCorruptShard(t *testing.T) {
	db := newTestDB(t)
	versions := NewVersionResolver(db, zap.NewNop())
	shards := storage.NewMemoryShardStore()
	loader := NewLoadService(loaderConfig(), db, nil, shards, versions, nil, zap.NewNop())

	seedInventory(t, loader)
	seedEMDBType(t, db)
	require.NoError(t, shards.Put(context.Background(), storage.ShardKey("epmc", 0), []byte("kein json")))
	putShard(t, shards, 1, []europepmc.Article{testArticle()})

	result, err := loader.Run(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 1, result.SkippedShards)
	assert.Equal(t, 1, result.Shards)
	assert.EqualValues(t, 1, countRows(t, db, &models.Publication{}))
}

// failingClassifier schlägt immer fehl, damit die Shard-Transaktion kippt.
type failingClassifier struct{}

func (failingClassifier) Score(ctx context.Context, resourceName string, snippets []string) ([]float64, error) {
	return nil, errors.New("classifier down")
}

func TestRunRollsBackFailedShard(t *testing.T) {
	db := newTestDB(t)
	versions := NewVersionResolver(db, zap.NewNop())
	shards := storage.NewMemoryShardStore()
	loader := NewLoadService(loaderConfig(), db, nil, shards, versions, failingClassifier{}, zap.NewNop())

	seedInventory(t, loader)
	seedEMDBType(t, db)
	putShard(t, shards, 0, []europepmc.Article{testArticle()})

	result, err := loader.Run(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 0, result.Shards)
	assert.Equal(t, 1, result.SkippedShards)

	// Auch die bereits geschriebene Publikation wurde zurückgerollt.
	assert.EqualValues(t, 0, countRows(t, db, &models.Publication{}))
	assert.EqualValues(t, 0, countRows(t, db, &models.Accession{}))
}
