package server

import "testing"

func TestParseVersion(t *testing.T) {
	cases := map[string]Version{
		"5.6.40":                               {5, 6, 40},
		"5.7.22":                               {5, 7, 22},
		"5.6.40-84.0":                          {5, 6, 40},
		"10.1.34-MariaDB-1~jessie":             {10, 1, 34},
		"10.2.16-MariaDB-10.2.16+maria~jessie": {10, 2, 16},
		"invalid":                              {0, 0, 0},
		"5":                                    {0, 0, 0},
		"5.6":                                  {0, 0, 0},
	}
	for input, expected := range cases {
		if actual := ParseVersion(input); actual != expected {
			t.Errorf("ParseVersion(%q): expected %v, found %v", input, expected, actual)
		}
	}
}

func TestVersionAtLeast(t *testing.T) {
	if !(Version{8, 0, 1}).AtLeast(Version{8, 0, 0}) {
		t.Error("expected 8.0.1 to be at least 8.0.0")
	}
	if (Version{5, 7, 22}).AtLeast(Version{8, 0, 0}) {
		t.Error("expected 5.7.22 to not be at least 8.0.0")
	}
}

func TestIdentifyFlavor(t *testing.T) {
	cases := []struct {
		version        string
		versionComment string
		wantVendor     Vendor
	}{
		{"5.6.42", "MySQL Community Server (GPL)", VendorMySQL},
		{"8.0.16", "MySQL Community Server - GPL", VendorMySQL},
		{"5.7.23-23", "Percona Server (GPL), Release 23, Revision 500fcf5", VendorPercona},
		{"10.1.34-MariaDB-1~bionic", "mariadb.org binary distribution", VendorMariaDB},
		{"5.7.25-tidb-v4.0.0", "", VendorTiDB},
		{"6.0.3", "Source distribution", VendorUnknown},
	}
	for _, tc := range cases {
		fl := IdentifyFlavor(tc.version, tc.versionComment)
		if fl.Vendor != tc.wantVendor {
			t.Errorf("IdentifyFlavor(%q, %q): expected vendor %s, found %s", tc.version, tc.versionComment, tc.wantVendor, fl.Vendor)
		}
	}
}

func TestFlavorMin(t *testing.T) {
	fl := Flavor{Vendor: VendorMySQL, Version: Version{8, 0, 21}}
	if !fl.Min(Flavor{Vendor: VendorMySQL, Version: Version{8, 0, 0}}) {
		t.Error("expected mysql:8.0.21 to meet minimum mysql:8.0.0")
	}
	if fl.Min(Flavor{Vendor: VendorPercona, Version: Version{8, 0, 0}}) {
		t.Error("expected mysql flavor to not satisfy a percona minimum")
	}
}

func TestDetectLockStrategy(t *testing.T) {
	cases := []struct {
		flavor   Flavor
		wantKind LockStrategyKind
	}{
		{Flavor{Vendor: VendorMySQL, Version: Version{8, 0, 21}}, LockStrategyInstanceBackup},
		{Flavor{Vendor: VendorPercona, Version: Version{8, 0, 21}}, LockStrategyInstanceBackup},
		{Flavor{Vendor: VendorPercona, Version: Version{5, 7, 30}}, LockStrategyPercona57},
		{Flavor{Vendor: VendorMariaDB, Version: Version{10, 5, 4}}, LockStrategyMariaDBBackupStage},
		{Flavor{Vendor: VendorMariaDB, Version: Version{10, 2, 0}}, LockStrategyNone},
		{Flavor{Vendor: VendorTiDB, Version: Version{4, 0, 0}}, LockStrategyNone},
	}
	for _, tc := range cases {
		ls := DetectLockStrategy(tc.flavor)
		if ls.Kind != tc.wantKind {
			t.Errorf("DetectLockStrategy(%s): expected kind %d, found %d", tc.flavor, tc.wantKind, ls.Kind)
		}
	}
	percona57 := DetectLockStrategy(Flavor{Vendor: VendorPercona, Version: Version{5, 7, 30}})
	if !percona57.NeedsSecondConn {
		t.Error("expected percona 5.7 lock strategy to need a second connection")
	}
}
