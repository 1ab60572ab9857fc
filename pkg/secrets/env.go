package secrets

import "os"

func envLookup(key string) (string, bool) {
	return os.LookupEnv(key)
}
