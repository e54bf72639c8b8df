package main

import (
	"fmt"
	"log"

	assetdata "github.com/lk2023060901/media-hub-backend/internal/asset/data"
	checkoutdata "github.com/lk2023060901/media-hub-backend/internal/checkout/data"
	identitydata "github.com/lk2023060901/media-hub-backend/internal/identity/data"
	syncdata "github.com/lk2023060901/media-hub-backend/internal/sync/data"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// 本地开发用的演示数据：四种可见性类型的组织、各角色的主体、
// 覆盖生命周期各状态的资产。重复执行时已存在的行保持不变。

const (
	orgFullAccess   = "11111111-1111-4111-8111-111111111111"
	orgTenantScoped = "22222222-2222-4222-8222-222222222222"
	orgOwnOnly      = "33333333-3333-4333-8333-333333333333"
	orgAllowListed  = "44444444-4444-4444-8444-444444444444"

	subjAdmin    = "aaaaaaaa-aaaa-4aaa-8aaa-aaaaaaaaaaaa"
	subjCurator  = "bbbbbbbb-bbbb-4bbb-8bbb-bbbbbbbbbbbb"
	subjEditor   = "cccccccc-cccc-4ccc-8ccc-cccccccccccc"
	subjViewer   = "dddddddd-dddd-4ddd-8ddd-dddddddddddd"
	subjDisabled = "eeeeeeee-eeee-4eee-8eee-eeeeeeeeeeee"
)

func main() {
	fmt.Println("=== Seeding demo data ===")

	// 连接数据库
	dsn := "host=localhost port=5432 user=postgres password=postgres dbname=mediahub sslmode=disable"
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}

	// 确保演示库的表结构齐全（与服务启动时的迁移一致）
	if err := db.AutoMigrate(
		&identitydata.SubjectPO{},
		&identitydata.OrganizationPO{},
		&assetdata.AssetPO{},
		&syncdata.SyncStatusPO{},
		&syncdata.ReferenceDBPO{},
		&checkoutdata.CheckoutTokenPO{},
	); err != nil {
		log.Fatal("Failed to migrate tables:", err)
	}

	insert := db.Clauses(clause.OnConflict{DoNothing: true})

	// 四种组织各一个
	fmt.Println("\n=== Organizations ===")
	orgs := []identitydata.OrganizationPO{
		{ID: orgFullAccess, Name: "Helios Media Group", Kind: "full_access"},
		{ID: orgTenantScoped, Name: "Nordwind Distribution", Kind: "tenant_scoped",
			TenantIDs: identitydata.StringListJSON{"tenant-eu", "tenant-nordic"}},
		{ID: orgOwnOnly, Name: "Castellan Studios", Kind: "own_org_only"},
		{ID: orgAllowListed, Name: "Apex Partner Network", Kind: "allow_listed",
			AllowedOwnerIDs: identitydata.StringListJSON{orgFullAccess, orgOwnOnly}},
	}
	if err := insert.Create(&orgs).Error; err != nil {
		log.Fatal("Failed to seed organizations:", err)
	}
	for _, o := range orgs {
		fmt.Printf("✅ %s (%s)\n", o.Name, o.Kind)
	}

	// 每个角色一个主体，外加一个被停用的账号
	fmt.Println("\n=== Subjects ===")
	subjects := []identitydata.SubjectPO{
		{ID: subjAdmin, DisplayName: "Ava Admin", Email: "ava@helios.example", OrgID: orgFullAccess, Role: "admin", Status: "active"},
		{ID: subjCurator, DisplayName: "Nils Curator", Email: "nils@nordwind.example", OrgID: orgTenantScoped, Role: "content_manager", Status: "active"},
		{ID: subjEditor, DisplayName: "Eli Editor", Email: "eli@castellan.example", OrgID: orgOwnOnly, Role: "editor", Status: "active"},
		{ID: subjViewer, DisplayName: "Vic Viewer", Email: "vic@apex.example", OrgID: orgAllowListed, Role: "viewer", Status: "active"},
		{ID: subjDisabled, DisplayName: "Dora Dormant", Email: "dora@helios.example", OrgID: orgFullAccess, Role: "viewer", Status: "disabled"},
	}
	if err := insert.Create(&subjects).Error; err != nil {
		log.Fatal("Failed to seed subjects:", err)
	}
	for _, s := range subjects {
		fmt.Printf("✅ %s <%s> %s/%s\n", s.DisplayName, s.Email, s.Role, s.Status)
	}

	// 资产：已发布/已批准的可分发，submitted/draft 用于审批流演示
	fmt.Println("\n=== Assets ===")
	assets := []assetdata.AssetPO{
		{
			ID: "demo-video-001", Filename: "opening-sequence.mp4",
			ContentHash: "4a7d8f0e2c91b6a3d5e8f1720c4b9a6d3e5f80714c2b9a6d3e5f80712c4b9a6d",
			FileSize:    734003200, ContentType: "video/mp4",
			LifecycleStatus: "published", Origin: "local",
			OwnerOrgID: orgFullAccess, UploaderID: subjAdmin,
			CatalogID: "cat-main", VisibilityScope: assetdata.ScopeJSON{"tenant-eu"},
		},
		{
			ID: "demo-audio-001", Filename: "score-main-theme.flac",
			ContentHash: "b91c6e3a805d2f74e1a9c6b3805d2f74e1a9c6b3805d2f74e1a9c6b3805d2f74",
			FileSize:    52428800, ContentType: "audio/flac",
			LifecycleStatus: "approved", Origin: "local",
			OwnerOrgID: orgOwnOnly, UploaderID: subjEditor,
			CatalogID: "cat-main", VisibilityScope: assetdata.ScopeJSON{"tenant-us"},
		},
		{
			// 内部目录：tenant_scoped 组织永远看不到
			ID: "demo-video-002", Filename: "internal-dailies.mov",
			ContentHash: "7c2e9b5d1f84a6037c2e9b5d1f84a6037c2e9b5d1f84a6037c2e9b5d1f84a603",
			FileSize:    1258291200, ContentType: "video/quicktime",
			LifecycleStatus: "approved", Origin: "local",
			OwnerOrgID: orgFullAccess, UploaderID: subjAdmin,
			CatalogID: "cat-internal", CatalogInternal: true,
			VisibilityScope: assetdata.ScopeJSON{"tenant-eu"},
		},
		{
			// 待审批：上传者本人不能批准
			ID: "demo-image-001", Filename: "poster-draft-v3.png",
			ContentHash: "e58d1a7f3c60b942e58d1a7f3c60b942e58d1a7f3c60b942e58d1a7f3c60b942",
			FileSize:    8388608, ContentType: "image/png",
			LifecycleStatus: "submitted", Origin: "local",
			OwnerOrgID: orgOwnOnly, UploaderID: subjEditor,
			CatalogID: "cat-main", VisibilityScope: assetdata.ScopeJSON{"tenant-eu"},
		},
		{
			ID: "demo-doc-001", Filename: "style-guide.pdf",
			ContentHash: "2f6c8a4e0d93b7152f6c8a4e0d93b7152f6c8a4e0d93b7152f6c8a4e0d93b715",
			FileSize:    2097152, ContentType: "application/pdf",
			LifecycleStatus: "draft", Origin: "local",
			OwnerOrgID: orgFullAccess, UploaderID: subjAdmin,
			CatalogID: "cat-main",
		},
	}
	if err := insert.Create(&assets).Error; err != nil {
		log.Fatal("Failed to seed assets:", err)
	}
	for _, a := range assets {
		fmt.Printf("✅ %s (%s, %s)\n", a.ID, a.Filename, a.LifecycleStatus)
	}

	// 参考库：源站行带对象存储位置
	fmt.Println("\n=== Reference databases ===")
	refdbs := []syncdata.ReferenceDBPO{
		{
			Name: "codecs", Version: "2025.07",
			FileHash: "9d4b2e7a1c85f6039d4b2e7a1c85f6039d4b2e7a1c85f6039d4b2e7a1c85f603",
			FileSize: 16777216, Filename: "codecs-2025.07.db",
			ObjectKey: "refdbs/codecs/codecs-2025.07.db",
		},
		{
			Name: "regions", Version: "2025.06",
			FileHash: "6a1f3d9c5e80b7246a1f3d9c5e80b7246a1f3d9c5e80b7246a1f3d9c5e80b724",
			FileSize: 4194304, Filename: "regions-2025.06.db",
			ObjectKey: "refdbs/regions/regions-2025.06.db",
		},
	}
	if err := insert.Create(&refdbs).Error; err != nil {
		log.Fatal("Failed to seed reference databases:", err)
	}
	for _, r := range refdbs {
		fmt.Printf("✅ %s %s\n", r.Name, r.Version)
	}

	// 汇总
	var orgCount, subjCount, assetCount, refdbCount int64
	db.Table("organizations").Count(&orgCount)
	db.Table("subjects").Count(&subjCount)
	db.Table("assets").Count(&assetCount)
	db.Table("reference_dbs").Count(&refdbCount)

	fmt.Printf("\n=== Totals ===\n")
	fmt.Printf("Organizations: %d\n", orgCount)
	fmt.Printf("Subjects: %d\n", subjCount)
	fmt.Printf("Assets: %d\n", assetCount)
	fmt.Printf("Reference DBs: %d\n", refdbCount)

	fmt.Println("\n✅ Demo data ready!")
}
