package repo

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// credentialFile is the on-disk shape of one credential handle.
type credentialFile struct {
	Username      string `yaml:"username"`
	Password      string `yaml:"password"`
	SSHKeyPath    string `yaml:"ssh_key_path"`
	SSHPassphrase string `yaml:"ssh_passphrase"`
}

// FileCredentialProvider resolves credential handles against YAML files under
// <dataDir>/credentials/<handle>.yaml. Key material referenced by path is
// read at resolve time, never cached.
type FileCredentialProvider struct {
	dir string
}

// NewFileCredentialProvider creates a provider rooted at dataDir.
func NewFileCredentialProvider(dataDir string) *FileCredentialProvider {
	return &FileCredentialProvider{dir: filepath.Join(dataDir, "credentials")}
}

// Resolve loads the credentials for a handle.
func (p *FileCredentialProvider) Resolve(ctx context.Context, handle string) (*Credentials, error) {
	if filepath.Base(handle) != handle {
		return nil, fmt.Errorf("invalid credential handle: %s", handle)
	}

	path := filepath.Join(p.dir, handle+".yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("credential handle %s not readable: %w", handle, err)
	}

	var file credentialFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("credential handle %s malformed: %w", handle, err)
	}

	creds := &Credentials{
		Username:      file.Username,
		Password:      file.Password,
		SSHPassphrase: file.SSHPassphrase,
	}
	if file.SSHKeyPath != "" {
		key, err := os.ReadFile(file.SSHKeyPath)
		if err != nil {
			return nil, fmt.Errorf("SSH key for handle %s not readable: %w", handle, err)
		}
		creds.SSHPrivateKey = key
	}
	return creds, nil
}
