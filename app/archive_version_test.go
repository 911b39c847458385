package app

import (
	"os"
	"testing"
)

func TestArchiveVersion(t *testing.T) {
	archivePath := t.TempDir()

	exists, err := checkArchiveVersion(archivePath)
	if err != nil || exists {
		t.Fatalf("fresh archive: exists %t, err %v", exists, err)
	}
	err = createArchiveVersionFile(archivePath)
	if err != nil {
		t.Fatalf("createArchiveVersionFile: %+v", err)
	}
	exists, err = checkArchiveVersion(archivePath)
	if err != nil || !exists {
		t.Fatalf("versioned archive: exists %t, err %v", exists, err)
	}

	tests := []struct {
		name    string
		content string
	}{
		{name: "future version", content: "2"},
		{name: "garbage", content: "latest"},
	}
	for _, test := range tests {
		err := os.WriteFile(archiveVersionFilePath(archivePath), []byte(test.content), 0600)
		if err != nil {
			t.Fatalf("WriteFile: %s", err)
		}
		exists, err := checkArchiveVersion(archivePath)
		if err == nil || !exists {
			t.Errorf("%s: exists %t, err %v", test.name, exists, err)
		}
	}
}
