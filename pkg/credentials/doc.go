// Package credentials stores proxy usernames and passwords outside the
// configuration file.
//
// The Manager tries the system keychain first, then an AES-GCM encrypted
// file under the user config directory, then the
// GALLERYSCRAPER_PROXY_USERNAME / GALLERYSCRAPER_PROXY_PASSWORD
// environment variables. Apply fills credentials into parsed proxy
// endpoints whose URI carried none.
package credentials
