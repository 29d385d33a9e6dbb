package db

// maxNumImages bounds image ids so pair ids stay unique.
const maxNumImages = 2147483647

// PairID maps an unordered image pair to a single key.
func PairID(id1, id2 int64) int64 {
	if id1 > id2 {
		id1, id2 = id2, id1
	}
	return id1*maxNumImages + id2
}

// PairImages is the inverse of PairID; id1 <= id2.
func PairImages(pairID int64) (id1, id2 int64) {
	id2 = pairID % maxNumImages
	id1 = (pairID - id2) / maxNumImages
	return id1, id2
}

// swapped reports whether rows for (id1, id2) are stored with the roles
// exchanged.
func swapped(id1, id2 int64) bool {
	return id1 > id2
}
