package model

// Document layout shared by every service:
//
//	stores/{storeID}
//	stores/{storeID}/shoppingList/current
//	stores/{storeID}/learnedItems/{itemID}
const StoresCollection = "stores"

func StorePath(storeID string) string {
	return StoresCollection + "/" + storeID
}

func ShoppingListPath(storeID string) string {
	return StorePath(storeID) + "/shoppingList/current"
}

func LearnedItemsCollection(storeID string) string {
	return StorePath(storeID) + "/learnedItems"
}

func LearnedItemPath(storeID, itemID string) string {
	return LearnedItemsCollection(storeID) + "/" + itemID
}
