package storage

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObjectPathAndOwnerPrefix(t *testing.T) {
	p := ObjectPath("42", 1700000000000, "report.PDF")
	assert.Equal(t, "uploads/42/1700000000000_report.PDF", p)
	assert.True(t, len(p) > len(OwnerPrefix("42")))
	assert.Equal(t, "uploads/42/", OwnerPrefix("42"))
}

func TestAddressRoundTrip(t *testing.T) {
	endpoint, err := url.Parse("http://localhost:9000")
	require.NoError(t, err)

	addr := Address(endpoint, "osapio-uploads", "uploads/42/1_a.pdf")
	assert.Equal(t, "http://localhost:9000/osapio-uploads/uploads/42/1_a.pdf", addr)

	name, err := ObjectName(addr, "osapio-uploads")
	require.NoError(t, err)
	assert.Equal(t, "uploads/42/1_a.pdf", name)
}

func TestObjectNameAcceptsBarePath(t *testing.T) {
	name, err := ObjectName("uploads/7/2_b.xml", "osapio-uploads")
	require.NoError(t, err)
	assert.Equal(t, "uploads/7/2_b.xml", name)
}

func TestObjectNameRejects(t *testing.T) {
	cases := []string{
		"",
		"http://localhost:9000/other-bucket/uploads/1/x",
		"uploads/../secrets",
		"uploads/1/./x.pdf",
		"uploads//x.pdf",
		"http://localhost:9000/osapio-uploads/uploads/%2e%2e/x",
	}
	for _, c := range cases {
		_, err := ObjectName(c, "osapio-uploads")
		assert.Error(t, err, c)
	}
}

func TestAddressRoundTripSpecialNames(t *testing.T) {
	endpoint, err := url.Parse("https://minio.internal:9000")
	require.NoError(t, err)

	for _, fileName := range []string{
		"report..v2.pdf",
		"report#1.pdf",
		"a?b.txt",
		"Q3 100%.csv",
		"Lieferschein Müller.xml",
		"a+b&c=d.txt",
	} {
		objectName := ObjectPath("1", 1700000000000, fileName)
		addr := Address(endpoint, "osapio-uploads", objectName)

		got, err := ObjectName(addr, "osapio-uploads")
		require.NoError(t, err, fileName)
		assert.Equal(t, objectName, got, fileName)

		bare, err := ObjectName(objectName, "osapio-uploads")
		require.NoError(t, err, fileName)
		assert.Equal(t, objectName, bare, fileName)
	}
}
